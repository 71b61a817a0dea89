package registry

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository provides access to identity profiles.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error)
	Get(ctx context.Context, tx pgx.Tx, address string) (Profile, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, address string) (Profile, error)
	Update(ctx context.Context, tx pgx.Tx, p Profile) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const profileColumns = `address, freelancer, active, reputation, completed_jobs, total_earnings, rating_sum, rating_count, created_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO identities (`+profileColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING `+profileColumns,
		p.Address, p.Freelancer, p.Active, p.Reputation, p.CompletedJobs, p.TotalEarnings, p.RatingSum, p.RatingCount, p.CreatedAt,
	)
	created, err := scanProfile(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Profile{}, fault.AlreadyExists("identity", p.Address, "already registered")
		}
		return Profile{}, fmt.Errorf("registry: insert identity: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, address string) (Profile, error) {
	return r.get(ctx, tx, `SELECT `+profileColumns+` FROM identities WHERE address=$1`, address)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, address string) (Profile, error) {
	return r.get(ctx, tx, `SELECT `+profileColumns+` FROM identities WHERE address=$1 FOR UPDATE`, address)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, query, address string) (Profile, error) {
	p, err := scanProfile(tx.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, fault.NotFound("identity", address)
		}
		return Profile{}, fmt.Errorf("registry: query identity: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, p Profile) error {
	tag, err := tx.Exec(ctx, `
        UPDATE identities
        SET active=$2, reputation=$3, completed_jobs=$4, total_earnings=$5, rating_sum=$6, rating_count=$7
        WHERE address=$1
    `, p.Address, p.Active, p.Reputation, p.CompletedJobs, p.TotalEarnings, p.RatingSum, p.RatingCount)
	if err != nil {
		return fmt.Errorf("registry: update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("identity", p.Address)
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.Address, &p.Freelancer, &p.Active, &p.Reputation, &p.CompletedJobs, &p.TotalEarnings, &p.RatingSum, &p.RatingCount, &p.CreatedAt)
	return p, err
}
