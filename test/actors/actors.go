// Package actors drives the marketplace engine from concurrent goroutines
// against a real database. Rejections by the engine are expected under
// contention and only counted; a deadlock aborts the run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"escrowflow/fault"
	"escrowflow/job"
	"escrowflow/marketplace"
	"escrowflow/outbox"
	"escrowflow/proposal"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deadlockDetected = "40P01"

// Stats counts operation outcomes across all actors.
type Stats struct {
	OK       atomic.Int64
	Rejected atomic.Int64
	Infra    atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("ok=%d rejected=%d infra=%d", s.OK.Load(), s.Rejected.Load(), s.Infra.Load())
}

// record classifies err and returns it only when the run must stop.
func (s *Stats) record(op string, err error) error {
	switch {
	case err == nil:
		s.OK.Add(1)
	case fault.KindOf(err) != nil:
		s.Rejected.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == deadlockDetected {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.Infra.Add(1)
	}
	return nil
}

// World is the shared state every actor operates on.
type World struct {
	Engine *marketplace.Engine
	Pool   *pgxpool.Pool
	Stats  *Stats
}

type step func(ctx context.Context) error

// loop runs fn with jittered pauses until ctx ends or stop closes.
func loop(ctx context.Context, stop <-chan struct{}, minPause, jitter time.Duration, fn step) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := fn(ctx); err != nil {
			return err
		}
		time.Sleep(minPause + time.Duration(rand.Int63n(int64(jitter))))
	}
}

// pick returns one id selected by query, or ok=false when nothing matches.
func (w *World) pick(ctx context.Context, query string, args ...any) (int64, bool, error) {
	var id int64
	err := w.Pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Poster keeps posting jobs for client.
func Poster(ctx context.Context, w *World, client string, stop <-chan struct{}) error {
	return loop(ctx, stop, 40*time.Millisecond, 60*time.Millisecond, func(ctx context.Context) error {
		_, err := w.Engine.CreateJob(ctx, client, job.CreateParams{
			ContentRef: fmt.Sprintf("ipfs://job/%s/%d", client, rand.Int63()),
			Budget:     100 + rand.Int63n(900),
			Deadline:   time.Now().Add(30 * 24 * time.Hour),
		})
		return w.Stats.record("create job", err)
	})
}

// Bidder proposes on random posted jobs and sometimes withdraws a pending bid.
func Bidder(ctx context.Context, w *World, freelancer string, stop <-chan struct{}) error {
	return loop(ctx, stop, 10*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) error {
		if rand.Intn(6) == 0 {
			id, ok, err := w.pick(ctx, `SELECT id FROM proposals WHERE freelancer = $1 AND status = 'pending' ORDER BY random() LIMIT 1`, freelancer)
			if err != nil {
				return w.Stats.record("pick proposal", err)
			}
			if !ok {
				return nil
			}
			_, err = w.Engine.WithdrawProposal(ctx, freelancer, id)
			return w.Stats.record("withdraw", err)
		}
		jobID, ok, err := w.pick(ctx, `SELECT id FROM jobs WHERE status = 'posted' ORDER BY random() LIMIT 1`)
		if err != nil {
			return w.Stats.record("pick job", err)
		}
		if !ok {
			return nil
		}
		_, err = w.Engine.SubmitProposal(ctx, freelancer, proposal.SubmitParams{
			JobID:        jobID,
			Bid:          100 + rand.Int63n(900),
			ContentRef:   "ipfs://proposal/" + freelancer,
			DeliveryTime: time.Now().Add(7 * 24 * time.Hour),
		})
		return w.Stats.record("submit proposal", err)
	})
}

// Acceptor accepts pending proposals on client's jobs and occasionally cancels
// a posted job instead. Several acceptors per client race on the same rows.
func Acceptor(ctx context.Context, w *World, client string, stop <-chan struct{}) error {
	return loop(ctx, stop, 10*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) error {
		if rand.Intn(10) == 0 {
			jobID, ok, err := w.pick(ctx, `SELECT id FROM jobs WHERE client = $1 AND status = 'posted' ORDER BY random() LIMIT 1`, client)
			if err != nil {
				return w.Stats.record("pick job", err)
			}
			if !ok {
				return nil
			}
			_, err = w.Engine.CancelJob(ctx, client, jobID)
			return w.Stats.record("cancel", err)
		}
		id, ok, err := w.pick(ctx, `SELECT p.id FROM proposals p JOIN jobs j ON j.id = p.job_id
            WHERE j.client = $1 AND p.status = 'pending' ORDER BY random() LIMIT 1`, client)
		if err != nil {
			return w.Stats.record("pick proposal", err)
		}
		if !ok {
			return nil
		}
		_, err = w.Engine.AcceptProposal(ctx, client, id)
		return w.Stats.record("accept", err)
	})
}

// Worker submits or revises work on jobs freelancer was hired for.
func Worker(ctx context.Context, w *World, freelancer string, stop <-chan struct{}) error {
	return loop(ctx, stop, 20*time.Millisecond, 40*time.Millisecond, func(ctx context.Context) error {
		var jobID, subID int64
		err := w.Pool.QueryRow(ctx, `SELECT s.job_id, s.id FROM submissions s JOIN jobs j ON j.id = s.job_id
            WHERE s.freelancer = $1 AND s.status = 'rejected' AND j.status = 'in_progress'
            ORDER BY random() LIMIT 1`, freelancer).Scan(&jobID, &subID)
		if err == nil {
			_, err = w.Engine.UpdateSubmission(ctx, freelancer, jobID, subID, "ipfs://work/revised", "addressed feedback")
			return w.Stats.record("revise", err)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return w.Stats.record("pick submission", err)
		}
		jobID, ok, err := w.pick(ctx, `SELECT id FROM jobs WHERE freelancer = $1 AND status = 'in_progress' ORDER BY random() LIMIT 1`, freelancer)
		if err != nil {
			return w.Stats.record("pick job", err)
		}
		if !ok {
			return nil
		}
		_, err = w.Engine.SubmitWork(ctx, freelancer, jobID, "ipfs://work/"+freelancer, "")
		return w.Stats.record("submit work", err)
	})
}

// Reviewer approves or rejects submitted work on client's jobs, and now and
// then opens a dispute instead.
func Reviewer(ctx context.Context, w *World, client string, stop <-chan struct{}) error {
	return loop(ctx, stop, 20*time.Millisecond, 40*time.Millisecond, func(ctx context.Context) error {
		var jobID, subID int64
		err := w.Pool.QueryRow(ctx, `SELECT s.job_id, s.id FROM submissions s JOIN jobs j ON j.id = s.job_id
            WHERE j.client = $1 AND s.status IN ('pending','revised') AND j.status = 'in_progress'
            ORDER BY random() LIMIT 1`, client).Scan(&jobID, &subID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return w.Stats.record("pick submission", err)
		}
		switch n := rand.Intn(10); {
		case n < 6:
			_, err = w.Engine.ApproveSubmission(ctx, client, jobID, subID)
			return w.Stats.record("approve", err)
		case n < 9:
			_, err = w.Engine.RejectSubmission(ctx, client, jobID, subID, "ipfs://feedback")
			return w.Stats.record("reject", err)
		default:
			_, err = w.Engine.InitiateJobDispute(ctx, client, jobID)
			return w.Stats.record("dispute", err)
		}
	})
}

// Arbiter resolves open job disputes for a random side.
func Arbiter(ctx context.Context, w *World, moderator string, stop <-chan struct{}) error {
	return loop(ctx, stop, 30*time.Millisecond, 50*time.Millisecond, func(ctx context.Context) error {
		var (
			jobID              int64
			client, freelancer string
		)
		err := w.Pool.QueryRow(ctx, `SELECT id, client, freelancer FROM jobs WHERE status = 'disputed' ORDER BY random() LIMIT 1`).
			Scan(&jobID, &client, &freelancer)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return w.Stats.record("pick dispute", err)
		}
		winner := client
		if rand.Intn(2) == 0 {
			winner = freelancer
		}
		_, err = w.Engine.ResolveJobDispute(ctx, moderator, jobID, winner)
		return w.Stats.record("resolve", err)
	})
}

// Relay drains the outbox while the other actors write to it.
func Relay(ctx context.Context, w *World, relay *outbox.Relay, stop <-chan struct{}) error {
	return loop(ctx, stop, 50*time.Millisecond, 50*time.Millisecond, func(ctx context.Context) error {
		_, err := relay.Flush(ctx)
		return w.Stats.record("relay", err)
	})
}
