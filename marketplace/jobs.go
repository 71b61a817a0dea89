package marketplace

import (
	"context"
	"time"

	"escrowflow/dispute"
	"escrowflow/job"
	"escrowflow/proposal"
	"escrowflow/submission"

	"github.com/jackc/pgx/v5"
)

type JobDispute struct {
	Job     job.Job
	Dispute dispute.Record
}

func (e *Engine) CreateJob(ctx context.Context, caller string, params job.CreateParams) (job.Job, error) {
	return atomic(ctx, e, "job.create", caller, false, func(tx pgx.Tx) (job.Job, error) {
		return e.jobs.Create(ctx, tx, caller, params)
	})
}

// HireFreelancer hires a freelancer whose proposal on the job is still
// pending, without going through proposal acceptance. Proposals keep their
// status; the job simply stops taking new ones.
func (e *Engine) HireFreelancer(ctx context.Context, caller string, jobID int64, freelancer string) (job.Job, error) {
	return atomic(ctx, e, "job.hire", caller, false, func(tx pgx.Tx) (job.Job, error) {
		if err := e.proposals.RequirePending(ctx, tx, jobID, freelancer); err != nil {
			return job.Job{}, err
		}
		return e.jobs.Hire(ctx, tx, jobID, freelancer, caller)
	})
}

func (e *Engine) CompleteJob(ctx context.Context, caller string, jobID int64) (job.Job, error) {
	return atomic(ctx, e, "job.complete", caller, false, func(tx pgx.Tx) (job.Job, error) {
		return e.jobs.Complete(ctx, tx, jobID, caller)
	})
}

func (e *Engine) CancelJob(ctx context.Context, caller string, jobID int64) (job.Job, error) {
	return atomic(ctx, e, "job.cancel", caller, false, func(tx pgx.Tx) (job.Job, error) {
		return e.jobs.Cancel(ctx, tx, jobID, caller)
	})
}

func (e *Engine) InitiateJobDispute(ctx context.Context, caller string, jobID int64) (JobDispute, error) {
	return atomic(ctx, e, "job.dispute", caller, false, func(tx pgx.Tx) (JobDispute, error) {
		j, err := e.jobs.InitiateDispute(ctx, tx, jobID, caller)
		if err != nil {
			return JobDispute{}, err
		}
		rec, err := e.disputes.Open(ctx, tx, dispute.SubjectJob, jobID, caller)
		if err != nil {
			return JobDispute{}, err
		}
		return JobDispute{Job: j, Dispute: rec}, nil
	})
}

func (e *Engine) ResolveJobDispute(ctx context.Context, caller string, jobID int64, winner string) (JobDispute, error) {
	return atomic(ctx, e, "job.resolve_dispute", caller, false, func(tx pgx.Tx) (JobDispute, error) {
		j, err := e.jobs.ResolveDispute(ctx, tx, jobID, winner, caller)
		if err != nil {
			return JobDispute{}, err
		}
		rec, err := e.disputes.Resolve(ctx, tx, dispute.SubjectJob, jobID, winner, caller)
		if err != nil {
			return JobDispute{}, err
		}
		return JobDispute{Job: j, Dispute: rec}, nil
	})
}

func (e *Engine) ExtendDeadline(ctx context.Context, caller string, jobID int64, deadline time.Time) (job.Job, error) {
	return atomic(ctx, e, "job.extend_deadline", caller, false, func(tx pgx.Tx) (job.Job, error) {
		return e.jobs.ExtendDeadline(ctx, tx, jobID, caller, deadline)
	})
}

func (e *Engine) IncreaseBudget(ctx context.Context, caller string, jobID, amount int64) (job.Job, error) {
	return atomic(ctx, e, "job.increase_budget", caller, false, func(tx pgx.Tx) (job.Job, error) {
		return e.jobs.IncreaseBudget(ctx, tx, jobID, caller, amount)
	})
}

func (e *Engine) SubmitProposal(ctx context.Context, caller string, params proposal.SubmitParams) (proposal.Proposal, error) {
	return atomic(ctx, e, "proposal.submit", caller, false, func(tx pgx.Tx) (proposal.Proposal, error) {
		return e.proposals.Submit(ctx, tx, caller, params)
	})
}

func (e *Engine) UpdateProposal(ctx context.Context, caller string, params proposal.UpdateParams) (proposal.Proposal, error) {
	return atomic(ctx, e, "proposal.update", caller, false, func(tx pgx.Tx) (proposal.Proposal, error) {
		return e.proposals.Update(ctx, tx, caller, params)
	})
}

func (e *Engine) WithdrawProposal(ctx context.Context, caller string, proposalID int64) (proposal.Proposal, error) {
	return atomic(ctx, e, "proposal.withdraw", caller, false, func(tx pgx.Tx) (proposal.Proposal, error) {
		return e.proposals.Withdraw(ctx, tx, caller, proposalID)
	})
}

func (e *Engine) AcceptProposal(ctx context.Context, caller string, proposalID int64) (proposal.AcceptResult, error) {
	return atomic(ctx, e, "proposal.accept", caller, false, func(tx pgx.Tx) (proposal.AcceptResult, error) {
		return e.proposals.Accept(ctx, tx, caller, proposalID)
	})
}

func (e *Engine) SubmitWork(ctx context.Context, caller string, jobID int64, workRef, commentRef string) (submission.Submission, error) {
	return atomic(ctx, e, "submission.submit", caller, false, func(tx pgx.Tx) (submission.Submission, error) {
		return e.submissions.SubmitWork(ctx, tx, caller, jobID, workRef, commentRef)
	})
}

func (e *Engine) UpdateSubmission(ctx context.Context, caller string, jobID, submissionID int64, workRef, commentRef string) (submission.Submission, error) {
	return atomic(ctx, e, "submission.update", caller, false, func(tx pgx.Tx) (submission.Submission, error) {
		return e.submissions.Update(ctx, tx, caller, jobID, submissionID, workRef, commentRef)
	})
}

func (e *Engine) ApproveSubmission(ctx context.Context, caller string, jobID, submissionID int64) (submission.ApproveResult, error) {
	return atomic(ctx, e, "submission.approve", caller, false, func(tx pgx.Tx) (submission.ApproveResult, error) {
		return e.submissions.Approve(ctx, tx, caller, jobID, submissionID)
	})
}

func (e *Engine) RejectSubmission(ctx context.Context, caller string, jobID, submissionID int64, feedbackRef string) (submission.Submission, error) {
	return atomic(ctx, e, "submission.reject", caller, false, func(tx pgx.Tx) (submission.Submission, error) {
		return e.submissions.Reject(ctx, tx, caller, jobID, submissionID, feedbackRef)
	})
}
