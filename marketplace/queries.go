package marketplace

import (
	"context"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/job"
	"escrowflow/proposal"
	"escrowflow/registry"
	"escrowflow/submission"

	"github.com/jackc/pgx/v5"
)

func (e *Engine) GetJob(ctx context.Context, jobID int64) (job.Job, error) {
	return view(ctx, e, func(tx pgx.Tx) (job.Job, error) {
		return e.jobs.Get(ctx, tx, jobID)
	})
}

func (e *Engine) GetProposal(ctx context.Context, proposalID int64) (proposal.Proposal, error) {
	return view(ctx, e, func(tx pgx.Tx) (proposal.Proposal, error) {
		return e.proposals.Get(ctx, tx, proposalID)
	})
}

func (e *Engine) GetProposalsByJob(ctx context.Context, jobID int64) ([]proposal.Proposal, error) {
	return view(ctx, e, func(tx pgx.Tx) ([]proposal.Proposal, error) {
		return e.proposals.ByJob(ctx, tx, jobID)
	})
}

func (e *Engine) GetProposalsByFreelancer(ctx context.Context, freelancer string) ([]proposal.Proposal, error) {
	return view(ctx, e, func(tx pgx.Tx) ([]proposal.Proposal, error) {
		return e.proposals.ByFreelancer(ctx, tx, freelancer)
	})
}

func (e *Engine) GetJobSubmissions(ctx context.Context, jobID int64) ([]submission.Submission, error) {
	return view(ctx, e, func(tx pgx.Tx) ([]submission.Submission, error) {
		return e.submissions.ByJob(ctx, tx, jobID)
	})
}

func (e *Engine) GetEscrowDetails(ctx context.Context, jobID int64) (escrow.Account, error) {
	return view(ctx, e, func(tx pgx.Tx) (escrow.Account, error) {
		return e.escrows.Get(ctx, tx, jobID)
	})
}

func (e *Engine) GetDisputes(ctx context.Context, subject dispute.Subject, subjectID int64) ([]dispute.Record, error) {
	return view(ctx, e, func(tx pgx.Tx) ([]dispute.Record, error) {
		return e.disputes.List(ctx, tx, subject, subjectID)
	})
}

func (e *Engine) GetIdentity(ctx context.Context, address string) (registry.Profile, error) {
	return view(ctx, e, func(tx pgx.Tx) (registry.Profile, error) {
		return e.identities.Get(ctx, tx, address)
	})
}

func (e *Engine) Balance(ctx context.Context, holder string) (int64, error) {
	return view(ctx, e, func(tx pgx.Tx) (int64, error) {
		return e.accounts.Balance(ctx, tx, holder)
	})
}

func (e *Engine) Paused(ctx context.Context) (bool, error) {
	return view(ctx, e, func(tx pgx.Tx) (bool, error) {
		return e.guard.Paused(ctx, tx)
	})
}
