package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository persists role grants and the global pause switch.
type Repository interface {
	HasRole(ctx context.Context, tx pgx.Tx, address string, role Role) (bool, error)
	Grant(ctx context.Context, tx pgx.Tx, address string, role Role, at time.Time) error
	Revoke(ctx context.Context, tx pgx.Tx, address string, role Role) error
	Paused(ctx context.Context, tx pgx.Tx) (bool, error)
	SetPaused(ctx context.Context, tx pgx.Tx, paused bool, at time.Time) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) HasRole(ctx context.Context, tx pgx.Tx, address string, role Role) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_grants WHERE address=$1 AND role=$2)`, address, string(role)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("capability: has role: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) Grant(ctx context.Context, tx pgx.Tx, address string, role Role, at time.Time) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO role_grants (address, role, granted_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (address, role) DO NOTHING
    `, address, string(role), at)
	if err != nil {
		return fmt.Errorf("capability: grant: %w", err)
	}
	return nil
}

func (r *PGRepository) Revoke(ctx context.Context, tx pgx.Tx, address string, role Role) error {
	if _, err := tx.Exec(ctx, `DELETE FROM role_grants WHERE address=$1 AND role=$2`, address, string(role)); err != nil {
		return fmt.Errorf("capability: revoke: %w", err)
	}
	return nil
}

// Paused reads the switch with FOR SHARE so a concurrent pause waits for
// in-flight operations and later operations observe it.
func (r *PGRepository) Paused(ctx context.Context, tx pgx.Tx) (bool, error) {
	var paused bool
	if err := tx.QueryRow(ctx, `SELECT paused FROM system_state WHERE id=1 FOR SHARE`).Scan(&paused); err != nil {
		return false, fmt.Errorf("capability: read pause flag: %w", err)
	}
	return paused, nil
}

func (r *PGRepository) SetPaused(ctx context.Context, tx pgx.Tx, paused bool, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE system_state SET paused=$1, updated_at=$2 WHERE id=1`, paused, at); err != nil {
		return fmt.Errorf("capability: set pause flag: %w", err)
	}
	return nil
}
