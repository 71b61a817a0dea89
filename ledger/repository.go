package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var errStaleVersion = errors.New("ledger: optimistic lock failed")

// Repository stores balances and the append-only entry journal.
type Repository interface {
	// LockAccount returns the account row locked for update, creating an
	// empty account on first use.
	LockAccount(ctx context.Context, tx pgx.Tx, holder string) (Account, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, holder string, balance, version int64, at time.Time) error
	AppendEntry(ctx context.Context, tx pgx.Tx, e Entry) error
	Balance(ctx context.Context, tx pgx.Tx, holder string) (int64, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) LockAccount(ctx context.Context, tx pgx.Tx, holder string) (Account, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_accounts (holder) VALUES ($1) ON CONFLICT (holder) DO NOTHING`, holder); err != nil {
		return Account{}, fmt.Errorf("ledger: ensure account: %w", err)
	}
	var a Account
	err := tx.QueryRow(ctx, `
        SELECT holder, balance, version, updated_at
        FROM ledger_accounts
        WHERE holder=$1
        FOR UPDATE
    `, holder).Scan(&a.Holder, &a.Balance, &a.Version, &a.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: lock account: %w", err)
	}
	return a, nil
}

func (r *PGRepository) UpdateBalance(ctx context.Context, tx pgx.Tx, holder string, balance, version int64, at time.Time) error {
	tag, err := tx.Exec(ctx, `
        UPDATE ledger_accounts
        SET balance=$1, version=version+1, updated_at=$2
        WHERE holder=$3 AND version=$4
    `, balance, at, holder, version)
	if err != nil {
		return fmt.Errorf("ledger: update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w for %s", errStaleVersion, holder)
	}
	return nil
}

func (r *PGRepository) AppendEntry(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (transfer_id, holder, amount, entry_type, balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, e.TransferID, e.Holder, e.Amount, string(e.Type), e.Balance, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	return nil
}

func (r *PGRepository) Balance(ctx context.Context, tx pgx.Tx, holder string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE holder=$1`, holder).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}
