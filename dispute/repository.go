package dispute

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) error
	// GetOpen returns the under-review dispute for a subject, locked.
	GetOpen(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64) (Record, error)
	Update(ctx context.Context, tx pgx.Tx, rec Record) error
	List(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64) ([]Record, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const recordColumns = `id, subject, subject_id, initiator, status, winner, resolved_by, created_at, resolved_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO disputes (id, subject, subject_id, initiator, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, string(rec.Subject), rec.SubjectID, rec.Initiator, string(rec.Status), rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fault.AlreadyExists("dispute", rec.SubjectID, "%s already has an open dispute", rec.Subject)
		}
		return fmt.Errorf("dispute: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) GetOpen(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM disputes
		WHERE subject = $1 AND subject_id = $2 AND status = 'under_review'
		FOR UPDATE
	`, string(subject), subjectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fault.NotFound("dispute", fmt.Sprintf("%s/%d", subject, subjectID))
		}
		return Record{}, fmt.Errorf("dispute: get open: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, rec Record) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes SET status = $2, winner = $3, resolved_by = $4, resolved_at = $5 WHERE id = $1
	`, rec.ID, string(rec.Status), rec.Winner, rec.ResolvedBy, rec.ResolvedAt)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("dispute", rec.ID)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM disputes
		WHERE subject = $1 AND subject_id = $2
		ORDER BY created_at DESC
	`, string(subject), subjectID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 2)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec             Record
		subject, status string
	)
	err := row.Scan(&rec.ID, &subject, &rec.SubjectID, &rec.Initiator, &status, &rec.Winner, &rec.ResolvedBy, &rec.CreatedAt, &rec.ResolvedAt)
	rec.Subject = Subject(subject)
	rec.Status = Status(status)
	return rec, err
}
