package proposal

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error)
	Get(ctx context.Context, tx pgx.Tx, id int64) (Proposal, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Proposal, error)
	Update(ctx context.Context, tx pgx.Tx, p Proposal) error
	// ListByJob and ListByFreelancer return proposals in insertion order.
	ListByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]Proposal, error)
	ListByFreelancer(ctx context.Context, tx pgx.Tx, freelancer string) ([]Proposal, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const proposalColumns = `id, job_id, freelancer, bid, content_ref, delivery_time, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO proposals (job_id, freelancer, bid, content_ref, delivery_time, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+proposalColumns,
		p.JobID, p.Freelancer, p.Bid, p.ContentRef, p.DeliveryTime, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	created, err := scanProposal(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Proposal{}, fault.AlreadyExists("proposal", nil, "%s already proposed on job %d", p.Freelancer, p.JobID)
		}
		return Proposal{}, fmt.Errorf("proposal: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id int64) (Proposal, error) {
	return r.get(ctx, tx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Proposal, error) {
	return r.get(ctx, tx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, query string, id int64) (Proposal, error) {
	p, err := scanProposal(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, fault.NotFound("proposal", id)
		}
		return Proposal{}, fmt.Errorf("proposal: query: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, p Proposal) error {
	tag, err := tx.Exec(ctx, `
        UPDATE proposals
        SET bid=$2, content_ref=$3, delivery_time=$4, status=$5, updated_at=$6
        WHERE id=$1
    `, p.ID, p.Bid, p.ContentRef, p.DeliveryTime, string(p.Status), p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fault.InvalidTransition("proposal", p.ID, "job %d already has an accepted proposal", p.JobID)
		}
		return fmt.Errorf("proposal: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("proposal", p.ID)
	}
	return nil
}

func (r *PGRepository) ListByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]Proposal, error) {
	return r.list(ctx, tx, `SELECT `+proposalColumns+` FROM proposals WHERE job_id=$1 ORDER BY id`, jobID)
}

func (r *PGRepository) ListByFreelancer(ctx context.Context, tx pgx.Tx, freelancer string) ([]Proposal, error) {
	return r.list(ctx, tx, `SELECT `+proposalColumns+` FROM proposals WHERE freelancer=$1 ORDER BY id`, freelancer)
}

func (r *PGRepository) list(ctx context.Context, tx pgx.Tx, query string, arg any) ([]Proposal, error) {
	rows, err := tx.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("proposal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Proposal, 0, 8)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("proposal: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate: %w", err)
	}
	return out, nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var (
		p      Proposal
		status string
	)
	err := row.Scan(&p.ID, &p.JobID, &p.Freelancer, &p.Bid, &p.ContentRef, &p.DeliveryTime, &status, &p.CreatedAt, &p.UpdatedAt)
	p.Status = Status(status)
	return p, err
}
