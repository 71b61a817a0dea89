package job

import (
	"context"
	"fmt"
	"time"

	"escrowflow/capability"
	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
)

// Registry is the subset of the identity registry the job ledger consults.
type Registry interface {
	IsRegistered(ctx context.Context, tx pgx.Tx, address string) (bool, error)
	IsFreelancer(ctx context.Context, tx pgx.Tx, address string) (bool, error)
	IsActive(ctx context.Context, tx pgx.Tx, address string) (bool, error)
	RecordCompletion(ctx context.Context, tx pgx.Tx, address string, earnings int64) error
}

// Payments moves tokens between a holder and custody.
type Payments interface {
	TransferInto(ctx context.Context, tx pgx.Tx, from string, amount int64) error
	TransferOut(ctx context.Context, tx pgx.Tx, to string, amount int64) error
}

// Roles reports capability grants such as job-manager.
type Roles interface {
	HasRole(ctx context.Context, tx pgx.Tx, address string, role capability.Role) (bool, error)
}

// OutboxWriter records domain events in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Limits bound new jobs: the smallest budget accepted and how far ahead a
// deadline may be set.
type Limits struct {
	MinBudget   int64
	MaxDuration time.Duration
}

// DefaultLimits is 100 tokens and one year.
func DefaultLimits() Limits {
	return Limits{MinBudget: 100, MaxDuration: 365 * 24 * time.Hour}
}

// Ledger is the authoritative job state machine. Every method runs inside the
// caller's transaction; on error the caller rolls back, so a failed call
// leaves no trace. Value moves only after the job row has been updated.
type Ledger struct {
	repo     Repository
	registry Registry
	payments Payments
	roles    Roles
	outbox   OutboxWriter
	limits   Limits
	now      func() time.Time
}

func NewLedger(repo Repository, registry Registry, payments Payments, roles Roles, outbox OutboxWriter) *Ledger {
	if repo == nil {
		repo = NewRepository()
	}
	return &Ledger{
		repo:     repo,
		registry: registry,
		payments: payments,
		roles:    roles,
		outbox:   outbox,
		limits:   DefaultLimits(),
		now:      time.Now,
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) WithLimits(limits Limits) *Ledger {
	l.limits = limits
	return l
}

// CreateParams describe a job to post; Budget is escrowed from the client.
type CreateParams struct {
	ContentRef string
	Budget     int64
	Deadline   time.Time
}

func (l *Ledger) Create(ctx context.Context, tx pgx.Tx, caller string, params CreateParams) (Job, error) {
	if err := l.requireClient(ctx, tx, caller); err != nil {
		return Job{}, err
	}
	now := l.now()
	if params.ContentRef == "" {
		return Job{}, fault.Validation("job", nil, "content ref required")
	}
	if params.Budget < l.limits.MinBudget {
		return Job{}, fault.Validation("job", nil, "budget %d below minimum %d", params.Budget, l.limits.MinBudget)
	}
	if !params.Deadline.After(now) {
		return Job{}, fault.Validation("job", nil, "deadline must be in the future")
	}
	if params.Deadline.After(now.Add(l.limits.MaxDuration)) {
		return Job{}, fault.Validation("job", nil, "deadline exceeds maximum duration of %s", l.limits.MaxDuration)
	}

	created, err := l.repo.Create(ctx, tx, Job{
		Client:     caller,
		ContentRef: params.ContentRef,
		Budget:     params.Budget,
		Escrowed:   params.Budget,
		Deadline:   params.Deadline,
		Status:     StatusPosted,
		CreatedAt:  now,
	})
	if err != nil {
		return Job{}, err
	}
	if err := l.payments.TransferInto(ctx, tx, caller, params.Budget); err != nil {
		return Job{}, err
	}
	if err := l.emit(ctx, tx, "job.created", created, nil); err != nil {
		return Job{}, err
	}
	return created, nil
}

// RecordProposal registers that freelancer has proposed on the job. It is
// called by the proposal ledger before a proposal row is written.
func (l *Ledger) RecordProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string) error {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusPosted {
		return fault.InvalidTransition("job", jobID, "job is %s, not open for proposals", j.Status)
	}
	if err := l.RequireFreelancer(ctx, tx, freelancer); err != nil {
		return err
	}
	now := l.now()
	if !now.Before(j.Deadline) {
		return fault.Validation("job", jobID, "deadline has passed")
	}
	if freelancer == j.Client {
		return fault.Validation("job", jobID, "client cannot propose on own job")
	}
	exists, err := l.repo.HasProposal(ctx, tx, jobID, freelancer)
	if err != nil {
		return err
	}
	if exists {
		return fault.AlreadyExists("job", jobID, "%s already proposed", freelancer)
	}
	return l.repo.MarkProposal(ctx, tx, jobID, freelancer, now)
}

// Hire assigns freelancer and moves the job to in_progress. caller is the
// original requester: the client, or a holder of the job-manager role acting
// on its behalf.
func (l *Ledger) Hire(ctx context.Context, tx pgx.Tx, jobID int64, freelancer, caller string) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if err := l.requireClientOrManager(ctx, tx, j, caller); err != nil {
		return Job{}, err
	}
	if j.Freelancer != nil {
		return Job{}, fault.InvalidTransition("job", jobID, "freelancer already hired")
	}
	if err := transition(&j, StatusInProgress); err != nil {
		return Job{}, err
	}
	proposed, err := l.repo.HasProposal(ctx, tx, jobID, freelancer)
	if err != nil {
		return Job{}, err
	}
	if !proposed {
		return Job{}, fault.Validation("job", jobID, "%s has no proposal on this job", freelancer)
	}
	if err := l.RequireFreelancer(ctx, tx, freelancer); err != nil {
		return Job{}, err
	}

	j.Freelancer = &freelancer
	if err := l.repo.Update(ctx, tx, j); err != nil {
		return Job{}, err
	}
	if err := l.emit(ctx, tx, "job.hired", j, map[string]any{"actor": caller}); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Complete pays the full budget to the hired freelancer.
func (l *Ledger) Complete(ctx context.Context, tx pgx.Tx, jobID int64, caller string) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if err := l.requireClientOrManager(ctx, tx, j, caller); err != nil {
		return Job{}, err
	}
	if j.Freelancer == nil {
		return Job{}, fault.InvalidTransition("job", jobID, "no freelancer hired")
	}
	if j.Status != StatusInProgress {
		return Job{}, fault.InvalidTransition("job", jobID, "job is %s", j.Status)
	}
	if !l.now().Before(j.Deadline) {
		return Job{}, fault.Validation("job", jobID, "deadline has passed")
	}
	return l.settle(ctx, tx, j, j.HiredFreelancer(), "job.completed", caller)
}

// Cancel refunds the client for a job nobody was hired on.
func (l *Ledger) Cancel(ctx context.Context, tx pgx.Tx, jobID int64, caller string) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, fault.Unauthorized("job", jobID, "only the client can cancel")
	}
	if j.Freelancer != nil {
		return Job{}, fault.InvalidTransition("job", jobID, "freelancer already hired")
	}
	if err := transition(&j, StatusCancelled); err != nil {
		return Job{}, err
	}
	refund := j.Escrowed
	j.Escrowed = 0
	if err := l.repo.Update(ctx, tx, j); err != nil {
		return Job{}, err
	}
	if refund > 0 {
		if err := l.payments.TransferOut(ctx, tx, j.Client, refund); err != nil {
			return Job{}, err
		}
	}
	if err := l.emit(ctx, tx, "job.cancelled", j, map[string]any{"refund": refund}); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (l *Ledger) InitiateDispute(ctx context.Context, tx pgx.Tx, jobID int64, caller string) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller == "" || (caller != j.Client && caller != j.HiredFreelancer()) {
		return Job{}, fault.Unauthorized("job", jobID, "only the client or hired freelancer can dispute")
	}
	if err := transition(&j, StatusDisputed); err != nil {
		return Job{}, err
	}
	if err := l.repo.Update(ctx, tx, j); err != nil {
		return Job{}, err
	}
	if err := l.emit(ctx, tx, "job.disputed", j, map[string]any{"initiator": caller}); err != nil {
		return Job{}, err
	}
	return j, nil
}

// ResolveDispute settles a disputed job in favour of winner, who must be the
// client or the hired freelancer. Only moderators arbitrate.
func (l *Ledger) ResolveDispute(ctx context.Context, tx pgx.Tx, jobID int64, winner, caller string) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	ok, err := l.roles.HasRole(ctx, tx, caller, capability.RoleModerator)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, fault.Unauthorized("job", jobID, "only a moderator can resolve disputes")
	}
	if j.Status != StatusDisputed {
		return Job{}, fault.InvalidTransition("job", jobID, "job is %s, not disputed", j.Status)
	}
	if winner == "" || (winner != j.Client && winner != j.HiredFreelancer()) {
		return Job{}, fault.Validation("job", jobID, "winner must be the client or the hired freelancer")
	}
	return l.settle(ctx, tx, j, winner, "job.dispute_resolved", caller)
}

// settle completes j and pays its custody to payee. State is written before
// the transfer is issued.
func (l *Ledger) settle(ctx context.Context, tx pgx.Tx, j Job, payee, topic, caller string) (Job, error) {
	if err := transition(&j, StatusCompleted); err != nil {
		return Job{}, err
	}
	payout := j.Escrowed
	completedAt := l.now()
	j.Escrowed = 0
	j.CompletedAt = &completedAt
	if err := l.repo.Update(ctx, tx, j); err != nil {
		return Job{}, err
	}

	if payout > 0 {
		if err := l.payments.TransferOut(ctx, tx, payee, payout); err != nil {
			return Job{}, err
		}
	}
	if payee == j.HiredFreelancer() {
		if err := l.registry.RecordCompletion(ctx, tx, payee, payout); err != nil {
			return Job{}, err
		}
	}
	if err := l.emit(ctx, tx, topic, j, map[string]any{"payee": payee, "payout": payout, "actor": caller}); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (l *Ledger) ExtendDeadline(ctx context.Context, tx pgx.Tx, jobID int64, caller string, deadline time.Time) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, fault.Unauthorized("job", jobID, "only the client can extend the deadline")
	}
	if !j.Active() {
		return Job{}, fault.InvalidTransition("job", jobID, "job is %s", j.Status)
	}
	if !deadline.After(j.Deadline) {
		return Job{}, fault.Validation("job", jobID, "new deadline must be later than the current one")
	}
	if deadline.After(l.now().Add(l.limits.MaxDuration)) {
		return Job{}, fault.Validation("job", jobID, "deadline exceeds maximum duration of %s", l.limits.MaxDuration)
	}
	j.Deadline = deadline
	if err := l.repo.Update(ctx, tx, j); err != nil {
		return Job{}, err
	}
	if err := l.emit(ctx, tx, "job.deadline_extended", j, nil); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (l *Ledger) IncreaseBudget(ctx context.Context, tx pgx.Tx, jobID int64, caller string, amount int64) (Job, error) {
	j, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, fault.Unauthorized("job", jobID, "only the client can increase the budget")
	}
	if !j.Active() {
		return Job{}, fault.InvalidTransition("job", jobID, "job is %s", j.Status)
	}
	if amount <= 0 {
		return Job{}, fault.Validation("job", jobID, "amount must be positive")
	}
	j.Budget += amount
	j.Escrowed += amount
	if err := l.repo.Update(ctx, tx, j); err != nil {
		return Job{}, err
	}
	if err := l.payments.TransferInto(ctx, tx, caller, amount); err != nil {
		return Job{}, err
	}
	if err := l.emit(ctx, tx, "job.budget_increased", j, map[string]any{"amount": amount}); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (l *Ledger) Get(ctx context.Context, tx pgx.Tx, jobID int64) (Job, error) {
	return l.repo.Get(ctx, tx, jobID)
}

// Lock reads the job with a row lock, for callers about to act on it.
func (l *Ledger) Lock(ctx context.Context, tx pgx.Tx, jobID int64) (Job, error) {
	return l.repo.GetForUpdate(ctx, tx, jobID)
}

func transition(j *Job, to Status) error {
	if !CanTransition(j.Status, to) {
		return fault.InvalidTransition("job", j.ID, "%s -> %s", j.Status, to)
	}
	j.Status = to
	return nil
}

func (l *Ledger) requireClient(ctx context.Context, tx pgx.Tx, caller string) error {
	if caller == "" {
		return fault.Unauthorized("job", nil, "caller required")
	}
	registered, err := l.registry.IsRegistered(ctx, tx, caller)
	if err != nil {
		return err
	}
	active, err := l.registry.IsActive(ctx, tx, caller)
	if err != nil {
		return err
	}
	freelancer, err := l.registry.IsFreelancer(ctx, tx, caller)
	if err != nil {
		return err
	}
	if !registered || !active || freelancer {
		return fault.Unauthorized("job", nil, "%s is not an active registered client", caller)
	}
	return nil
}

// RequireFreelancer fails with an authorization error unless address is a
// registered, active freelancer.
func (l *Ledger) RequireFreelancer(ctx context.Context, tx pgx.Tx, address string) error {
	if address == "" {
		return fault.Unauthorized("job", nil, "freelancer required")
	}
	registered, err := l.registry.IsRegistered(ctx, tx, address)
	if err != nil {
		return err
	}
	active, err := l.registry.IsActive(ctx, tx, address)
	if err != nil {
		return err
	}
	freelancer, err := l.registry.IsFreelancer(ctx, tx, address)
	if err != nil {
		return err
	}
	if !registered || !active || !freelancer {
		return fault.Unauthorized("job", nil, "%s is not an active registered freelancer", address)
	}
	return nil
}

func (l *Ledger) requireClientOrManager(ctx context.Context, tx pgx.Tx, j Job, caller string) error {
	if caller != "" && caller == j.Client {
		return nil
	}
	ok, err := l.roles.HasRole(ctx, tx, caller, capability.RoleJobManager)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Unauthorized("job", j.ID, "caller is neither the client nor a job manager")
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, tx pgx.Tx, topic string, j Job, extra map[string]any) error {
	if l.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":   j.ID,
		"status":   j.Status,
		"client":   j.Client,
		"budget":   j.Budget,
		"escrowed": j.Escrowed,
	}
	if j.Freelancer != nil {
		payload["freelancer"] = *j.Freelancer
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := l.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("job: enqueue outbox: %w", err)
	}
	return nil
}
