package submission

import (
	"context"
	"fmt"
	"time"

	"escrowflow/fault"
	"escrowflow/job"

	"github.com/jackc/pgx/v5"
)

// Jobs is the part of the job ledger the tracker needs.
type Jobs interface {
	Get(ctx context.Context, tx pgx.Tx, jobID int64) (job.Job, error)
	Lock(ctx context.Context, tx pgx.Tx, jobID int64) (job.Job, error)
	Complete(ctx context.Context, tx pgx.Tx, jobID int64, caller string) (job.Job, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Tracker struct {
	repo   Repository
	jobs   Jobs
	outbox OutboxWriter
	now    func() time.Time
}

func NewTracker(repo Repository, jobs Jobs, outbox OutboxWriter) *Tracker {
	if repo == nil {
		repo = NewRepository()
	}
	return &Tracker{repo: repo, jobs: jobs, outbox: outbox, now: time.Now}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

type ApproveResult struct {
	Submission Submission
	Job        job.Job
}

func (t *Tracker) SubmitWork(ctx context.Context, tx pgx.Tx, caller string, jobID int64, workRef, commentRef string) (Submission, error) {
	j, err := t.jobs.Lock(ctx, tx, jobID)
	if err != nil {
		return Submission{}, err
	}
	if err := requireHired(j, caller); err != nil {
		return Submission{}, err
	}
	if j.Status != job.StatusInProgress {
		return Submission{}, fault.InvalidTransition("submission", nil, "job %d is %s", jobID, j.Status)
	}
	if workRef == "" {
		return Submission{}, fault.Validation("submission", nil, "work ref required")
	}

	created, err := t.repo.Create(ctx, tx, Submission{
		JobID:       jobID,
		Freelancer:  caller,
		WorkRef:     workRef,
		CommentRef:  commentRef,
		Status:      StatusPending,
		SubmittedAt: t.now(),
	})
	if err != nil {
		return Submission{}, err
	}
	if err := t.emit(ctx, tx, "submission.created", created); err != nil {
		return Submission{}, err
	}
	return created, nil
}

// Update revises a pending or rejected submission with new work.
func (t *Tracker) Update(ctx context.Context, tx pgx.Tx, caller string, jobID, submissionID int64, workRef, commentRef string) (Submission, error) {
	j, err := t.jobs.Lock(ctx, tx, jobID)
	if err != nil {
		return Submission{}, err
	}
	if err := requireHired(j, caller); err != nil {
		return Submission{}, err
	}
	if j.Status != job.StatusInProgress {
		return Submission{}, fault.InvalidTransition("submission", submissionID, "job %d is %s", jobID, j.Status)
	}
	if workRef == "" {
		return Submission{}, fault.Validation("submission", submissionID, "work ref required")
	}
	s, err := t.repo.GetForUpdate(ctx, tx, jobID, submissionID)
	if err != nil {
		return Submission{}, err
	}
	if err := transition(&s, StatusRevised); err != nil {
		return Submission{}, err
	}
	s.WorkRef = workRef
	s.CommentRef = commentRef
	s.SubmittedAt = t.now()
	if err := t.repo.Update(ctx, tx, s); err != nil {
		return Submission{}, err
	}
	if err := t.emit(ctx, tx, "submission.revised", s); err != nil {
		return Submission{}, err
	}
	return s, nil
}

// Approve accepts the work and completes the job, paying the freelancer.
func (t *Tracker) Approve(ctx context.Context, tx pgx.Tx, caller string, jobID, submissionID int64) (ApproveResult, error) {
	j, err := t.jobs.Lock(ctx, tx, jobID)
	if err != nil {
		return ApproveResult{}, err
	}
	if caller == "" || caller != j.Client {
		return ApproveResult{}, fault.Unauthorized("submission", submissionID, "only the job's client can approve")
	}
	if err := requireInProgress(j, submissionID); err != nil {
		return ApproveResult{}, err
	}
	s, err := t.repo.GetForUpdate(ctx, tx, jobID, submissionID)
	if err != nil {
		return ApproveResult{}, err
	}
	if err := transition(&s, StatusApproved); err != nil {
		return ApproveResult{}, err
	}
	if err := t.repo.Update(ctx, tx, s); err != nil {
		return ApproveResult{}, err
	}
	completed, err := t.jobs.Complete(ctx, tx, jobID, caller)
	if err != nil {
		return ApproveResult{}, err
	}
	if err := t.emit(ctx, tx, "submission.approved", s); err != nil {
		return ApproveResult{}, err
	}
	return ApproveResult{Submission: s, Job: completed}, nil
}

// Reject returns the work to the freelancer; feedbackRef replaces the comment.
func (t *Tracker) Reject(ctx context.Context, tx pgx.Tx, caller string, jobID, submissionID int64, feedbackRef string) (Submission, error) {
	j, err := t.jobs.Lock(ctx, tx, jobID)
	if err != nil {
		return Submission{}, err
	}
	if caller == "" || caller != j.Client {
		return Submission{}, fault.Unauthorized("submission", submissionID, "only the job's client can reject")
	}
	if err := requireInProgress(j, submissionID); err != nil {
		return Submission{}, err
	}
	s, err := t.repo.GetForUpdate(ctx, tx, jobID, submissionID)
	if err != nil {
		return Submission{}, err
	}
	if err := transition(&s, StatusRejected); err != nil {
		return Submission{}, err
	}
	s.CommentRef = feedbackRef
	if err := t.repo.Update(ctx, tx, s); err != nil {
		return Submission{}, err
	}
	if err := t.emit(ctx, tx, "submission.rejected", s); err != nil {
		return Submission{}, err
	}
	return s, nil
}

func (t *Tracker) ByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]Submission, error) {
	if _, err := t.jobs.Get(ctx, tx, jobID); err != nil {
		return nil, err
	}
	return t.repo.ListByJob(ctx, tx, jobID)
}

// requireInProgress refuses review of work once the job left in_progress,
// including while it is disputed.
func requireInProgress(j job.Job, submissionID int64) error {
	if j.Status != job.StatusInProgress {
		return fault.InvalidTransition("submission", submissionID, "job %d is %s", j.ID, j.Status)
	}
	return nil
}

func requireHired(j job.Job, caller string) error {
	if caller == "" || caller != j.HiredFreelancer() {
		return fault.Unauthorized("submission", nil, "only the hired freelancer can submit work for job %d", j.ID)
	}
	return nil
}

func transition(s *Submission, to Status) error {
	if !CanTransition(s.Status, to) {
		return fault.InvalidTransition("submission", s.ID, "%s -> %s", s.Status, to)
	}
	s.Status = to
	return nil
}

func (t *Tracker) emit(ctx context.Context, tx pgx.Tx, topic string, s Submission) error {
	if t.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"submission_id": s.ID,
		"job_id":        s.JobID,
		"freelancer":    s.Freelancer,
		"status":        s.Status,
	}
	if err := t.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("submission: enqueue outbox: %w", err)
	}
	return nil
}
