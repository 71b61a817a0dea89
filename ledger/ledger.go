package ledger

import (
	"context"
	"time"

	"escrowflow/fault"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Ledger is the fungible-token ledger. Job and escrow components see it only
// through TransferInto and TransferOut, which move value between a holder
// and the custody account inside the caller's transaction.
type Ledger struct {
	repo        Repository
	idGenerator func() string
	now         func() time.Time
}

func NewLedger(repo Repository) *Ledger {
	if repo == nil {
		repo = NewRepository()
	}
	return &Ledger{
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.idGenerator = gen
	return l
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// TransferInto pulls amount from holder into custody.
func (l *Ledger) TransferInto(ctx context.Context, tx pgx.Tx, from string, amount int64) error {
	return l.Transfer(ctx, tx, from, CustodyHolder, amount)
}

// TransferOut pays amount from custody to holder.
func (l *Ledger) TransferOut(ctx context.Context, tx pgx.Tx, to string, amount int64) error {
	return l.Transfer(ctx, tx, CustodyHolder, to, amount)
}

// Transfer moves amount between two holders, writing a debit and a credit
// entry under one transfer id.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	if amount <= 0 {
		return fault.TransferFailed("amount must be positive, got %d", amount)
	}
	if from == "" || to == "" {
		return fault.TransferFailed("missing holder")
	}
	if from == to {
		return fault.TransferFailed("cannot transfer to the same holder %s", from)
	}

	// Lock in a consistent order so opposing transfers cannot deadlock.
	first, second := from, to
	if first > second {
		first, second = second, first
	}
	a, err := l.repo.LockAccount(ctx, tx, first)
	if err != nil {
		return err
	}
	b, err := l.repo.LockAccount(ctx, tx, second)
	if err != nil {
		return err
	}
	src, dst := a, b
	if first != from {
		src, dst = b, a
	}

	if src.Balance < amount {
		return fault.TransferFailed("insufficient balance for %s: have %d, need %d", from, src.Balance, amount)
	}

	now := l.now()
	id := l.idGenerator()
	if err := l.repo.AppendEntry(ctx, tx, Entry{TransferID: id, Holder: src.Holder, Amount: -amount, Type: EntryDebit, Balance: src.Balance - amount, CreatedAt: now}); err != nil {
		return err
	}
	if err := l.repo.AppendEntry(ctx, tx, Entry{TransferID: id, Holder: dst.Holder, Amount: amount, Type: EntryCredit, Balance: dst.Balance + amount, CreatedAt: now}); err != nil {
		return err
	}
	if err := l.repo.UpdateBalance(ctx, tx, src.Holder, src.Balance-amount, src.Version, now); err != nil {
		return err
	}
	return l.repo.UpdateBalance(ctx, tx, dst.Holder, dst.Balance+amount, dst.Version, now)
}

// Mint credits new funds to holder.
func (l *Ledger) Mint(ctx context.Context, tx pgx.Tx, to string, amount int64) error {
	if amount <= 0 {
		return fault.Validation("account", to, "mint amount must be positive")
	}
	if to == "" || to == CustodyHolder || to == MintHolder {
		return fault.Validation("account", to, "cannot mint to this holder")
	}
	acct, err := l.repo.LockAccount(ctx, tx, to)
	if err != nil {
		return err
	}
	now := l.now()
	if err := l.repo.AppendEntry(ctx, tx, Entry{TransferID: l.idGenerator(), Holder: to, Amount: amount, Type: EntryCredit, Balance: acct.Balance + amount, CreatedAt: now}); err != nil {
		return err
	}
	return l.repo.UpdateBalance(ctx, tx, to, acct.Balance+amount, acct.Version, now)
}

func (l *Ledger) Balance(ctx context.Context, tx pgx.Tx, holder string) (int64, error) {
	return l.repo.Balance(ctx, tx, holder)
}
