package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository interface {
	// Create assigns the next id from the job sequence.
	Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	Get(ctx context.Context, tx pgx.Tx, id int64) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Job, error)
	Update(ctx context.Context, tx pgx.Tx, j Job) error
	MarkProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string, at time.Time) error
	HasProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string) (bool, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const jobColumns = `id, client, content_ref, budget, escrowed, deadline, freelancer, status, created_at, completed_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO jobs (client, content_ref, budget, escrowed, deadline, freelancer, status, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING `+jobColumns,
		j.Client, j.ContentRef, j.Budget, j.Escrowed, j.Deadline, j.Freelancer, string(j.Status), j.CreatedAt, j.CompletedAt,
	)
	created, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id int64) (Job, error) {
	return r.get(ctx, tx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Job, error) {
	return r.get(ctx, tx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, query string, id int64) (Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fault.NotFound("job", id)
		}
		return Job{}, fmt.Errorf("job: query: %w", err)
	}
	return j, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, j Job) error {
	tag, err := tx.Exec(ctx, `
        UPDATE jobs
        SET budget=$2, escrowed=$3, deadline=$4, freelancer=$5, status=$6, completed_at=$7
        WHERE id=$1
    `, j.ID, j.Budget, j.Escrowed, j.Deadline, j.Freelancer, string(j.Status), j.CompletedAt)
	if err != nil {
		return fmt.Errorf("job: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("job", j.ID)
	}
	return nil
}

func (r *PGRepository) MarkProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string, at time.Time) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO job_proposal_marks (job_id, freelancer, created_at)
        VALUES ($1, $2, $3)
    `, jobID, freelancer, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fault.AlreadyExists("job", jobID, "%s already proposed", freelancer)
		}
		return fmt.Errorf("job: mark proposal: %w", err)
	}
	return nil
}

func (r *PGRepository) HasProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM job_proposal_marks WHERE job_id=$1 AND freelancer=$2)`, jobID, freelancer).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("job: check proposal mark: %w", err)
	}
	return ok, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		j      Job
		status string
	)
	err := row.Scan(&j.ID, &j.Client, &j.ContentRef, &j.Budget, &j.Escrowed, &j.Deadline, &j.Freelancer, &status, &j.CreatedAt, &j.CompletedAt)
	j.Status = Status(status)
	return j, err
}
