package marketplace

import (
	"context"

	"escrowflow/dispute"
	"escrowflow/escrow"

	"github.com/jackc/pgx/v5"
)

type EscrowDispute struct {
	Account escrow.Account
	Dispute dispute.Record
}

func (e *Engine) CreateEscrow(ctx context.Context, caller string, params escrow.CreateParams) (escrow.Account, error) {
	return atomic(ctx, e, "escrow.create", caller, false, func(tx pgx.Tx) (escrow.Account, error) {
		return e.escrows.Create(ctx, tx, caller, params)
	})
}

func (e *Engine) ReleaseEscrow(ctx context.Context, caller string, jobID int64) (escrow.Account, error) {
	return atomic(ctx, e, "escrow.release", caller, false, func(tx pgx.Tx) (escrow.Account, error) {
		return e.escrows.Release(ctx, tx, caller, jobID)
	})
}

func (e *Engine) RefundEscrow(ctx context.Context, caller string, jobID int64) (escrow.Account, error) {
	return atomic(ctx, e, "escrow.refund", caller, false, func(tx pgx.Tx) (escrow.Account, error) {
		return e.escrows.Refund(ctx, tx, caller, jobID)
	})
}

func (e *Engine) AddEscrowFunds(ctx context.Context, caller string, jobID, amount int64) (escrow.Account, error) {
	return atomic(ctx, e, "escrow.add_funds", caller, false, func(tx pgx.Tx) (escrow.Account, error) {
		return e.escrows.AddFunds(ctx, tx, caller, jobID, amount)
	})
}

func (e *Engine) InitiateEscrowDispute(ctx context.Context, caller string, jobID int64) (EscrowDispute, error) {
	return atomic(ctx, e, "escrow.dispute", caller, false, func(tx pgx.Tx) (EscrowDispute, error) {
		a, err := e.escrows.InitiateDispute(ctx, tx, caller, jobID)
		if err != nil {
			return EscrowDispute{}, err
		}
		rec, err := e.disputes.Open(ctx, tx, dispute.SubjectEscrow, jobID, caller)
		if err != nil {
			return EscrowDispute{}, err
		}
		return EscrowDispute{Account: a, Dispute: rec}, nil
	})
}

func (e *Engine) ResolveEscrowDispute(ctx context.Context, caller string, jobID int64, winner string) (EscrowDispute, error) {
	return atomic(ctx, e, "escrow.resolve_dispute", caller, false, func(tx pgx.Tx) (EscrowDispute, error) {
		a, err := e.escrows.ResolveDispute(ctx, tx, caller, jobID, winner)
		if err != nil {
			return EscrowDispute{}, err
		}
		rec, err := e.disputes.Resolve(ctx, tx, dispute.SubjectEscrow, jobID, winner, caller)
		if err != nil {
			return EscrowDispute{}, err
		}
		return EscrowDispute{Account: a, Dispute: rec}, nil
	})
}
