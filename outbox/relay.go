package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Relay drains pending outbox rows to a Publisher. Delivery is at least once:
// a crash between publish and commit re-sends the batch.
type Relay struct {
	pool        TxBeginner
	repo        Repository
	publisher   Publisher
	log         logrus.FieldLogger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func NewRelay(pool TxBeginner, repo Repository, publisher Publisher, log logrus.FieldLogger, cfg RelayConfig) *Relay {
	if repo == nil {
		repo = NewRepository()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relay{
		pool:        pool,
		repo:        repo,
		publisher:   publisher,
		log:         log,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.WithError(err).Warn("outbox flush failed")
				continue
			}
			if n > 0 {
				r.log.WithField("delivered", n).Debug("outbox flushed")
			}
		}
	}
}

// Flush relays one batch and returns how many messages were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.repo.ClaimPending(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range msgs {
		now := r.now()
		if err := r.publisher.Publish(ctx, m); err != nil {
			dead := m.Attempts+1 >= r.maxAttempts
			r.log.WithError(err).WithFields(logrus.Fields{
				"message_id": m.ID,
				"topic":      m.Topic,
				"attempts":   m.Attempts + 1,
				"dead":       dead,
			}).Warn("outbox publish failed")
			if err := r.repo.MarkFailed(ctx, tx, m.ID, dead, now); err != nil {
				return delivered, err
			}
			continue
		}
		if err := r.repo.MarkProcessed(ctx, tx, m.ID, now); err != nil {
			return delivered, err
		}
		delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return delivered, nil
}
