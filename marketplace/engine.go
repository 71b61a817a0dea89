// Package marketplace composes the job, proposal, submission and escrow
// components into one engine. Every mutating operation runs in a single
// database transaction guarded by the pause switch; any failure rolls the
// whole operation back.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowflow/capability"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/fault"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/outbox"
	"escrowflow/proposal"
	"escrowflow/registry"
	"escrowflow/submission"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Deps are the storage adapters behind each component. Nil repositories fall
// back to the PostgreSQL implementations.
type Deps struct {
	Pool        TxBeginner
	Jobs        job.Repository
	Proposals   proposal.Repository
	Submissions submission.Repository
	Escrows     escrow.Repository
	Disputes    dispute.Repository
	Identities  registry.Repository
	Roles       capability.Repository
	Accounts    ledger.Repository
	Outbox      outbox.Repository
	Logger      logrus.FieldLogger
}

type Options struct {
	Limits job.Limits
	Now    func() time.Time
	NewID  func() string
}

type Engine struct {
	pool        TxBeginner
	log         logrus.FieldLogger
	guard       *capability.Guard
	identities  *registry.Service
	accounts    *ledger.Ledger
	events      *outbox.Writer
	jobs        *job.Ledger
	proposals   *proposal.Ledger
	submissions *submission.Tracker
	escrows     *escrow.Custodian
	disputes    *dispute.Service
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Pool == nil {
		return nil, errors.New("marketplace: pool required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if opts.Limits == (job.Limits{}) {
		opts.Limits = job.DefaultLimits()
	}
	if opts.Limits.MinBudget <= 0 || opts.Limits.MaxDuration <= 0 {
		return nil, fmt.Errorf("marketplace: invalid limits %+v", opts.Limits)
	}

	guard := capability.NewGuard(deps.Roles)
	identities := registry.NewService(deps.Identities)
	accounts := ledger.NewLedger(deps.Accounts)
	events := outbox.NewWriter(deps.Outbox)
	disputes := dispute.NewService(deps.Disputes)
	if opts.Now != nil {
		guard.WithClock(opts.Now)
		identities.WithClock(opts.Now)
		accounts.WithClock(opts.Now)
		events.WithClock(opts.Now)
		disputes.WithClock(opts.Now)
	}
	if opts.NewID != nil {
		accounts.WithIDGenerator(opts.NewID)
		events.WithIDGenerator(opts.NewID)
		disputes.WithIDGenerator(opts.NewID)
	}

	jobs := job.NewLedger(deps.Jobs, identities, accounts, guard, events).WithLimits(opts.Limits)
	proposals := proposal.NewLedger(deps.Proposals, jobs, events)
	submissions := submission.NewTracker(deps.Submissions, jobs, events)
	escrows := escrow.NewCustodian(deps.Escrows, accounts, guard, events)
	if opts.Now != nil {
		jobs.WithClock(opts.Now)
		proposals.WithClock(opts.Now)
		submissions.WithClock(opts.Now)
		escrows.WithClock(opts.Now)
	}

	return &Engine{
		pool:        deps.Pool,
		log:         deps.Logger,
		guard:       guard,
		identities:  identities,
		accounts:    accounts,
		events:      events,
		jobs:        jobs,
		proposals:   proposals,
		submissions: submissions,
		escrows:     escrows,
		disputes:    disputes,
	}, nil
}

// atomic runs fn in one transaction. Unless skipPause is set the pause flag
// is checked first, under a share lock, inside the same transaction.
func atomic[T any](ctx context.Context, e *Engine, op, caller string, skipPause bool, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var zero T
	result, err := func() (T, error) {
		tx, err := e.pool.Begin(ctx)
		if err != nil {
			return zero, fmt.Errorf("marketplace: begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if !skipPause {
			if err := e.guard.EnsureRunning(ctx, tx); err != nil {
				return zero, err
			}
		}
		out, err := fn(tx)
		if err != nil {
			return zero, err
		}
		if err := tx.Commit(ctx); err != nil {
			return zero, fmt.Errorf("marketplace: commit: %w", err)
		}
		return out, nil
	}()
	e.audit(op, caller, err)
	return result, err
}

// view runs a read-only fn in a transaction that is always rolled back.
// Reads stay available while paused.
func view[T any](ctx context.Context, e *Engine, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("marketplace: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(tx)
}

func (e *Engine) audit(op, caller string, err error) {
	entry := e.log.WithFields(logrus.Fields{"op": op, "caller": caller})
	switch {
	case err == nil:
		entry.WithField("outcome", "ok").Info("operation")
	case fault.KindOf(err) != nil:
		entry.WithFields(logrus.Fields{"outcome": "rejected", "kind": fault.Name(err)}).WithError(err).Warn("operation")
	default:
		entry.WithFields(logrus.Fields{"outcome": "failed", "kind": fault.Name(err)}).WithError(err).Error("operation")
	}
}

// Bootstrap grants admin to each address. It ignores the pause switch and
// the caller checks, and is meant for startup.
func (e *Engine) Bootstrap(ctx context.Context, admins []string) error {
	_, err := atomic(ctx, e, "bootstrap", "", true, func(tx pgx.Tx) (struct{}, error) {
		for _, addr := range admins {
			if err := e.guard.Bootstrap(ctx, tx, addr); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}
