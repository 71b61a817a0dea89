package submission

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, s Submission) (Submission, error)
	// GetForUpdate looks the submission up by (job id, id) and locks the row.
	GetForUpdate(ctx context.Context, tx pgx.Tx, jobID, id int64) (Submission, error)
	Update(ctx context.Context, tx pgx.Tx, s Submission) error
	ListByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]Submission, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const submissionColumns = `id, job_id, freelancer, work_ref, comment_ref, status, submitted_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, s Submission) (Submission, error) {
	created, err := scanSubmission(tx.QueryRow(ctx, `
        INSERT INTO submissions (job_id, freelancer, work_ref, comment_ref, status, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING `+submissionColumns,
		s.JobID, s.Freelancer, s.WorkRef, s.CommentRef, string(s.Status), s.SubmittedAt,
	))
	if err != nil {
		return Submission{}, fmt.Errorf("submission: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID, id int64) (Submission, error) {
	s, err := scanSubmission(tx.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE job_id=$1 AND id=$2 FOR UPDATE`, jobID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, fault.NotFound("submission", id)
		}
		return Submission{}, fmt.Errorf("submission: query: %w", err)
	}
	return s, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, s Submission) error {
	tag, err := tx.Exec(ctx, `
        UPDATE submissions
        SET work_ref=$3, comment_ref=$4, status=$5, submitted_at=$6
        WHERE job_id=$1 AND id=$2
    `, s.JobID, s.ID, s.WorkRef, s.CommentRef, string(s.Status), s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("submission: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("submission", s.ID)
	}
	return nil
}

func (r *PGRepository) ListByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]Submission, error) {
	rows, err := tx.Query(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE job_id=$1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("submission: list: %w", err)
	}
	defer rows.Close()

	out := make([]Submission, 0, 4)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("submission: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submission: iterate: %w", err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (Submission, error) {
	var (
		s      Submission
		status string
	)
	err := row.Scan(&s.ID, &s.JobID, &s.Freelancer, &s.WorkRef, &s.CommentRef, &status, &s.SubmittedAt)
	s.Status = Status(status)
	return s, err
}
