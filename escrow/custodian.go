package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowflow/capability"
	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
)

type Payments interface {
	TransferInto(ctx context.Context, tx pgx.Tx, from string, amount int64) error
	TransferOut(ctx context.Context, tx pgx.Tx, to string, amount int64) error
}

type Roles interface {
	HasRole(ctx context.Context, tx pgx.Tx, address string, role capability.Role) (bool, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Custodian manages per-job escrow accounts. Each account is written before
// funds leave custody.
type Custodian struct {
	repo     Repository
	payments Payments
	roles    Roles
	outbox   OutboxWriter
	now      func() time.Time
}

func NewCustodian(repo Repository, payments Payments, roles Roles, outbox OutboxWriter) *Custodian {
	if repo == nil {
		repo = NewRepository()
	}
	return &Custodian{repo: repo, payments: payments, roles: roles, outbox: outbox, now: time.Now}
}

func (c *Custodian) WithClock(now func() time.Time) *Custodian {
	c.now = now
	return c
}

type CreateParams struct {
	JobID      int64
	Client     string
	Freelancer string
	Amount     int64
}

func (c *Custodian) Create(ctx context.Context, tx pgx.Tx, manager string, params CreateParams) (Account, error) {
	if err := c.requireManager(ctx, tx, manager, params.JobID); err != nil {
		return Account{}, err
	}
	if _, err := c.repo.Get(ctx, tx, params.JobID); err == nil {
		return Account{}, fault.AlreadyExists("escrow", params.JobID, "escrow already exists for job")
	} else if !errors.Is(err, fault.ErrNotFound) {
		return Account{}, err
	}
	if params.Amount <= 0 {
		return Account{}, fault.Validation("escrow", params.JobID, "amount must be positive")
	}
	if params.Client == "" || params.Freelancer == "" {
		return Account{}, fault.Validation("escrow", params.JobID, "client and freelancer required")
	}
	if params.Client == params.Freelancer {
		return Account{}, fault.Validation("escrow", params.JobID, "client and freelancer must differ")
	}

	a := Account{
		JobID:      params.JobID,
		Balance:    params.Amount,
		Client:     params.Client,
		Freelancer: params.Freelancer,
		Status:     StatusActive,
		CreatedAt:  c.now(),
	}
	if err := c.repo.Create(ctx, tx, a); err != nil {
		return Account{}, err
	}
	if err := c.payments.TransferInto(ctx, tx, a.Client, a.Balance); err != nil {
		return Account{}, err
	}
	if err := c.emit(ctx, tx, "escrow.created", a, nil); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Release pays the full balance to the freelancer at the client's request.
func (c *Custodian) Release(ctx context.Context, tx pgx.Tx, caller string, jobID int64) (Account, error) {
	a, err := c.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Account{}, err
	}
	if caller == "" || caller != a.Client {
		return Account{}, fault.Unauthorized("escrow", jobID, "only the client can release funds")
	}
	return c.payOut(ctx, tx, a, StatusReleased, a.Freelancer, "escrow.released", caller)
}

func (c *Custodian) Refund(ctx context.Context, tx pgx.Tx, manager string, jobID int64) (Account, error) {
	a, err := c.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Account{}, err
	}
	if err := c.requireManager(ctx, tx, manager, jobID); err != nil {
		return Account{}, err
	}
	return c.payOut(ctx, tx, a, StatusRefunded, a.Client, "escrow.refunded", manager)
}

func (c *Custodian) AddFunds(ctx context.Context, tx pgx.Tx, caller string, jobID, amount int64) (Account, error) {
	a, err := c.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Account{}, err
	}
	if caller == "" || caller != a.Client {
		return Account{}, fault.Unauthorized("escrow", jobID, "only the client can add funds")
	}
	if a.Status != StatusActive {
		return Account{}, fault.InvalidTransition("escrow", jobID, "escrow is %s", a.Status)
	}
	if amount <= 0 {
		return Account{}, fault.Validation("escrow", jobID, "amount must be positive")
	}
	a.Balance += amount
	if err := c.repo.Update(ctx, tx, a); err != nil {
		return Account{}, err
	}
	if err := c.payments.TransferInto(ctx, tx, caller, amount); err != nil {
		return Account{}, err
	}
	if err := c.emit(ctx, tx, "escrow.funds_added", a, map[string]any{"amount": amount}); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (c *Custodian) InitiateDispute(ctx context.Context, tx pgx.Tx, caller string, jobID int64) (Account, error) {
	a, err := c.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Account{}, err
	}
	if caller == "" || (caller != a.Client && caller != a.Freelancer) {
		return Account{}, fault.Unauthorized("escrow", jobID, "only the client or freelancer can dispute")
	}
	if err := transition(&a, StatusDisputed); err != nil {
		return Account{}, err
	}
	if err := c.repo.Update(ctx, tx, a); err != nil {
		return Account{}, err
	}
	if err := c.emit(ctx, tx, "escrow.disputed", a, map[string]any{"initiator": caller}); err != nil {
		return Account{}, err
	}
	return a, nil
}

// ResolveDispute releases a disputed balance to winner.
func (c *Custodian) ResolveDispute(ctx context.Context, tx pgx.Tx, manager string, jobID int64, winner string) (Account, error) {
	a, err := c.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Account{}, err
	}
	if err := c.requireManager(ctx, tx, manager, jobID); err != nil {
		return Account{}, err
	}
	if a.Status != StatusDisputed {
		return Account{}, fault.InvalidTransition("escrow", jobID, "escrow is %s, not disputed", a.Status)
	}
	if winner == "" || (winner != a.Client && winner != a.Freelancer) {
		return Account{}, fault.Validation("escrow", jobID, "winner must be the client or the freelancer")
	}
	return c.payOut(ctx, tx, a, StatusReleased, winner, "escrow.dispute_resolved", manager)
}

func (c *Custodian) Get(ctx context.Context, tx pgx.Tx, jobID int64) (Account, error) {
	return c.repo.Get(ctx, tx, jobID)
}

func (c *Custodian) payOut(ctx context.Context, tx pgx.Tx, a Account, to Status, payee, topic, actor string) (Account, error) {
	if err := transition(&a, to); err != nil {
		return Account{}, err
	}
	amount := a.Balance
	at := c.now()
	a.Balance = 0
	a.ReleasedAt = &at
	if err := c.repo.Update(ctx, tx, a); err != nil {
		return Account{}, err
	}
	if amount > 0 {
		if err := c.payments.TransferOut(ctx, tx, payee, amount); err != nil {
			return Account{}, err
		}
	}
	if err := c.emit(ctx, tx, topic, a, map[string]any{"payee": payee, "amount": amount, "actor": actor}); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (c *Custodian) requireManager(ctx context.Context, tx pgx.Tx, caller string, jobID int64) error {
	ok, err := c.roles.HasRole(ctx, tx, caller, capability.RoleEscrowManager)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Unauthorized("escrow", jobID, "escrow-manager role required")
	}
	return nil
}

func transition(a *Account, to Status) error {
	if !CanTransition(a.Status, to) {
		return fault.InvalidTransition("escrow", a.JobID, "%s -> %s", a.Status, to)
	}
	a.Status = to
	return nil
}

func (c *Custodian) emit(ctx context.Context, tx pgx.Tx, topic string, a Account, extra map[string]any) error {
	if c.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":     a.JobID,
		"status":     a.Status,
		"client":     a.Client,
		"freelancer": a.Freelancer,
		"balance":    a.Balance,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := c.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("escrow: enqueue outbox: %w", err)
	}
	return nil
}
