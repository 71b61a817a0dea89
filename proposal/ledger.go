package proposal

import (
	"context"
	"fmt"
	"time"

	"escrowflow/fault"
	"escrowflow/job"

	"github.com/jackc/pgx/v5"
)

// Jobs is the part of the job ledger proposals depend on.
type Jobs interface {
	Get(ctx context.Context, tx pgx.Tx, jobID int64) (job.Job, error)
	Lock(ctx context.Context, tx pgx.Tx, jobID int64) (job.Job, error)
	RecordProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string) error
	RequireFreelancer(ctx context.Context, tx pgx.Tx, address string) error
	Hire(ctx context.Context, tx pgx.Tx, jobID int64, freelancer, caller string) (job.Job, error)
}

// OutboxWriter records domain events in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Ledger owns proposal state. Job-side rules are delegated to Jobs.
type Ledger struct {
	repo   Repository
	jobs   Jobs
	outbox OutboxWriter
	now    func() time.Time
}

func NewLedger(repo Repository, jobs Jobs, outbox OutboxWriter) *Ledger {
	if repo == nil {
		repo = NewRepository()
	}
	return &Ledger{repo: repo, jobs: jobs, outbox: outbox, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// SubmitParams are the terms of a new bid.
type SubmitParams struct {
	JobID        int64
	Bid          int64
	ContentRef   string
	DeliveryTime time.Time
}

// UpdateParams replace the terms of a pending proposal.
type UpdateParams struct {
	ProposalID   int64
	Bid          int64
	ContentRef   string
	DeliveryTime time.Time
}

// AcceptResult carries the accepted proposal, the hired job and the ids of
// the proposals rejected alongside.
type AcceptResult struct {
	Proposal Proposal
	Job      job.Job
	Rejected []int64
}

// Submit records a pending proposal. Eligibility, the open-job check and the
// one-proposal-per-freelancer rule are enforced by the job ledger.
func (l *Ledger) Submit(ctx context.Context, tx pgx.Tx, caller string, params SubmitParams) (Proposal, error) {
	now := l.now()
	if err := validateTerms(params.Bid, params.ContentRef, params.DeliveryTime, now); err != nil {
		return Proposal{}, err
	}
	if err := l.jobs.RecordProposal(ctx, tx, params.JobID, caller); err != nil {
		return Proposal{}, err
	}
	created, err := l.repo.Create(ctx, tx, Proposal{
		JobID:        params.JobID,
		Freelancer:   caller,
		Bid:          params.Bid,
		ContentRef:   params.ContentRef,
		DeliveryTime: params.DeliveryTime,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Proposal{}, err
	}
	if err := l.emit(ctx, tx, "proposal.submitted", created); err != nil {
		return Proposal{}, err
	}
	return created, nil
}

func (l *Ledger) Update(ctx context.Context, tx pgx.Tx, caller string, params UpdateParams) (Proposal, error) {
	p, err := l.repo.GetForUpdate(ctx, tx, params.ProposalID)
	if err != nil {
		return Proposal{}, err
	}
	if caller != p.Freelancer {
		return Proposal{}, fault.Unauthorized("proposal", p.ID, "only the author can update")
	}
	if err := l.jobs.RequireFreelancer(ctx, tx, caller); err != nil {
		return Proposal{}, err
	}
	if p.Status != StatusPending {
		return Proposal{}, fault.InvalidTransition("proposal", p.ID, "proposal is %s", p.Status)
	}
	now := l.now()
	if err := validateTerms(params.Bid, params.ContentRef, params.DeliveryTime, now); err != nil {
		return Proposal{}, err
	}
	j, err := l.jobs.Get(ctx, tx, p.JobID)
	if err != nil {
		return Proposal{}, err
	}
	if j.Status != job.StatusPosted {
		return Proposal{}, fault.InvalidTransition("proposal", p.ID, "job %d is %s", j.ID, j.Status)
	}
	if !now.Before(j.Deadline) {
		return Proposal{}, fault.Validation("proposal", p.ID, "job deadline has passed")
	}

	p.Bid = params.Bid
	p.ContentRef = params.ContentRef
	p.DeliveryTime = params.DeliveryTime
	p.UpdatedAt = now
	if err := l.repo.Update(ctx, tx, p); err != nil {
		return Proposal{}, err
	}
	if err := l.emit(ctx, tx, "proposal.updated", p); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

func (l *Ledger) Withdraw(ctx context.Context, tx pgx.Tx, caller string, proposalID int64) (Proposal, error) {
	p, err := l.repo.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if caller != p.Freelancer {
		return Proposal{}, fault.Unauthorized("proposal", p.ID, "only the author can withdraw")
	}
	if p.Status != StatusPending {
		return Proposal{}, fault.InvalidTransition("proposal", p.ID, "proposal is %s", p.Status)
	}
	p.Status = StatusWithdrawn
	p.UpdatedAt = l.now()
	if err := l.repo.Update(ctx, tx, p); err != nil {
		return Proposal{}, err
	}
	if err := l.emit(ctx, tx, "proposal.withdrawn", p); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// Accept hires the proposal's freelancer and rejects every other pending
// proposal on the job. The three effects commit together or not at all.
func (l *Ledger) Accept(ctx context.Context, tx pgx.Tx, caller string, proposalID int64) (AcceptResult, error) {
	// Job row first, then proposal rows: the sibling rejections below lock
	// other proposals of the same job while the job row is held.
	target, err := l.repo.Get(ctx, tx, proposalID)
	if err != nil {
		return AcceptResult{}, err
	}
	j, err := l.jobs.Lock(ctx, tx, target.JobID)
	if err != nil {
		return AcceptResult{}, err
	}
	p, err := l.repo.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return AcceptResult{}, err
	}
	if caller == "" || caller != j.Client {
		return AcceptResult{}, fault.Unauthorized("proposal", p.ID, "only the job's client can accept")
	}
	if p.Status != StatusPending {
		return AcceptResult{}, fault.InvalidTransition("proposal", p.ID, "proposal is %s", p.Status)
	}
	if j.Status != job.StatusPosted {
		return AcceptResult{}, fault.InvalidTransition("proposal", p.ID, "job %d is %s", j.ID, j.Status)
	}

	now := l.now()
	p.Status = StatusAccepted
	p.UpdatedAt = now
	if err := l.repo.Update(ctx, tx, p); err != nil {
		return AcceptResult{}, err
	}

	hired, err := l.jobs.Hire(ctx, tx, p.JobID, p.Freelancer, caller)
	if err != nil {
		return AcceptResult{}, err
	}

	siblings, err := l.repo.ListByJob(ctx, tx, p.JobID)
	if err != nil {
		return AcceptResult{}, err
	}
	rejected := make([]int64, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == p.ID || s.Status != StatusPending {
			continue
		}
		if s, err = l.repo.GetForUpdate(ctx, tx, s.ID); err != nil {
			return AcceptResult{}, err
		}
		if s.Status != StatusPending {
			continue
		}
		s.Status = StatusRejected
		s.UpdatedAt = now
		if err := l.repo.Update(ctx, tx, s); err != nil {
			return AcceptResult{}, err
		}
		rejected = append(rejected, s.ID)
	}

	if err := l.emit(ctx, tx, "proposal.accepted", p); err != nil {
		return AcceptResult{}, err
	}
	return AcceptResult{Proposal: p, Job: hired, Rejected: rejected}, nil
}

// RequirePending fails unless freelancer holds a pending proposal on jobID.
// Direct hires call it so a withdrawn or rejected bid cannot be hired.
func (l *Ledger) RequirePending(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string) error {
	if _, err := l.jobs.Lock(ctx, tx, jobID); err != nil {
		return err
	}
	proposals, err := l.repo.ListByJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	for _, p := range proposals {
		if p.Freelancer != freelancer {
			continue
		}
		locked, err := l.repo.GetForUpdate(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if locked.Status != StatusPending {
			return fault.InvalidTransition("proposal", p.ID, "proposal is %s", locked.Status)
		}
		return nil
	}
	return fault.Validation("proposal", nil, "%s has no proposal on job %d", freelancer, jobID)
}

func (l *Ledger) Get(ctx context.Context, tx pgx.Tx, proposalID int64) (Proposal, error) {
	return l.repo.Get(ctx, tx, proposalID)
}

// ByJob lists a job's proposals in submission order.
func (l *Ledger) ByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]Proposal, error) {
	if _, err := l.jobs.Get(ctx, tx, jobID); err != nil {
		return nil, err
	}
	return l.repo.ListByJob(ctx, tx, jobID)
}

func (l *Ledger) ByFreelancer(ctx context.Context, tx pgx.Tx, freelancer string) ([]Proposal, error) {
	return l.repo.ListByFreelancer(ctx, tx, freelancer)
}

func validateTerms(bid int64, contentRef string, delivery, now time.Time) error {
	if bid <= 0 {
		return fault.Validation("proposal", nil, "bid must be positive")
	}
	if contentRef == "" {
		return fault.Validation("proposal", nil, "content ref required")
	}
	if !delivery.After(now) {
		return fault.Validation("proposal", nil, "delivery time must be in the future")
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, tx pgx.Tx, topic string, p Proposal) error {
	if l.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"proposal_id": p.ID,
		"job_id":      p.JobID,
		"freelancer":  p.Freelancer,
		"bid":         p.Bid,
		"status":      p.Status,
	}
	if err := l.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("proposal: enqueue outbox: %w", err)
	}
	return nil
}
