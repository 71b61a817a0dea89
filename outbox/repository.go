package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, msg Message) error
	// ClaimPending locks up to limit pending messages, oldest first, skipping
	// rows another relay already holds.
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, dead bool, at time.Time) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, msg Message) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO outbox (id, topic, payload, status, attempts, created_at)
        VALUES ($1, $2, $3::jsonb, $4, 0, $5)
    `, msg.ID, msg.Topic, string(msg.Payload), string(StatusPending), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	rows, err := tx.Query(ctx, `
        SELECT id::text, topic, payload::text, status, attempts, created_at, last_attempt
        FROM outbox
        WHERE status='pending'
        ORDER BY created_at
        FOR UPDATE SKIP LOCKED
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var (
			m       Message
			payload string
		)
		if err := rows.Scan(&m.ID, &m.Topic, &payload, &m.Status, &m.Attempts, &m.CreatedAt, &m.LastAttempt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		m.Payload = []byte(payload)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate: %w", err)
	}
	return msgs, nil
}

func (r *PGRepository) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1, last_attempt=$2 WHERE id=$1`, id, at); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id string, dead bool, at time.Time) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status=$2, attempts=attempts+1, last_attempt=$3 WHERE id=$1`, id, string(status), at); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
