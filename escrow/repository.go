package escrow

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, a Account) error
	Get(ctx context.Context, tx pgx.Tx, jobID int64) (Account, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (Account, error)
	Update(ctx context.Context, tx pgx.Tx, a Account) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const accountColumns = `job_id, balance, client, freelancer, status, created_at, released_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, a Account) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO escrow_accounts (job_id, balance, client, freelancer, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, a.JobID, a.Balance, a.Client, a.Freelancer, string(a.Status), a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fault.AlreadyExists("escrow", a.JobID, "escrow already exists for job")
		}
		return fmt.Errorf("escrow: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, jobID int64) (Account, error) {
	return r.get(ctx, tx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE job_id=$1`, jobID)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (Account, error) {
	return r.get(ctx, tx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE job_id=$1 FOR UPDATE`, jobID)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, query string, jobID int64) (Account, error) {
	var (
		a      Account
		status string
	)
	err := tx.QueryRow(ctx, query, jobID).Scan(&a.JobID, &a.Balance, &a.Client, &a.Freelancer, &status, &a.CreatedAt, &a.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fault.NotFound("escrow", jobID)
		}
		return Account{}, fmt.Errorf("escrow: query: %w", err)
	}
	a.Status = Status(status)
	return a, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, a Account) error {
	tag, err := tx.Exec(ctx, `
        UPDATE escrow_accounts SET balance=$2, status=$3, released_at=$4 WHERE job_id=$1
    `, a.JobID, a.Balance, string(a.Status), a.ReleasedAt)
	if err != nil {
		return fmt.Errorf("escrow: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("escrow", a.JobID)
	}
	return nil
}
