package marketplace

import (
	"context"

	"escrowflow/capability"
	"escrowflow/fault"
	"escrowflow/registry"

	"github.com/jackc/pgx/v5"
)

// Pause and Unpause are the only mutations allowed while paused.
func (e *Engine) Pause(ctx context.Context, caller string) error {
	_, err := atomic(ctx, e, "admin.pause", caller, true, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, e.guard.SetPaused(ctx, tx, caller, true)
	})
	return err
}

func (e *Engine) Unpause(ctx context.Context, caller string) error {
	_, err := atomic(ctx, e, "admin.unpause", caller, true, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, e.guard.SetPaused(ctx, tx, caller, false)
	})
	return err
}

func (e *Engine) GrantRole(ctx context.Context, caller, address string, role capability.Role) error {
	_, err := atomic(ctx, e, "admin.grant_role", caller, false, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, e.guard.Grant(ctx, tx, caller, address, role)
	})
	return err
}

func (e *Engine) RevokeRole(ctx context.Context, caller, address string, role capability.Role) error {
	_, err := atomic(ctx, e, "admin.revoke_role", caller, false, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, e.guard.Revoke(ctx, tx, caller, address, role)
	})
	return err
}

// Mint credits tokens to a holder's ledger account.
func (e *Engine) Mint(ctx context.Context, caller, to string, amount int64) (int64, error) {
	return atomic(ctx, e, "admin.mint", caller, false, func(tx pgx.Tx) (int64, error) {
		if err := e.guard.Require(ctx, tx, caller, capability.RoleAdmin); err != nil {
			return 0, err
		}
		if err := e.accounts.Mint(ctx, tx, to, amount); err != nil {
			return 0, err
		}
		return e.accounts.Balance(ctx, tx, to)
	})
}

func (e *Engine) RegisterIdentity(ctx context.Context, caller string, freelancer bool) (registry.Profile, error) {
	return atomic(ctx, e, "identity.register", caller, false, func(tx pgx.Tx) (registry.Profile, error) {
		return e.identities.Register(ctx, tx, caller, freelancer)
	})
}

func (e *Engine) SetIdentityActive(ctx context.Context, caller, address string, active bool) (registry.Profile, error) {
	return atomic(ctx, e, "identity.set_active", caller, false, func(tx pgx.Tx) (registry.Profile, error) {
		if err := e.guard.Require(ctx, tx, caller, capability.RoleModerator); err != nil {
			return registry.Profile{}, err
		}
		return e.identities.SetActive(ctx, tx, address, active)
	})
}

func (e *Engine) Rate(ctx context.Context, caller, address string, score int) (registry.Profile, error) {
	return atomic(ctx, e, "identity.rate", caller, false, func(tx pgx.Tx) (registry.Profile, error) {
		if caller == "" {
			return registry.Profile{}, fault.Unauthorized("identity", address, "caller required")
		}
		return e.identities.Rate(ctx, tx, caller, address, score)
	})
}
