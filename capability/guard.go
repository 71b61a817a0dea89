package capability

import (
	"context"
	"time"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
)

// Guard answers role questions for the core components and owns the admin
// operations that change grants or the pause switch.
type Guard struct {
	repo Repository
	now  func() time.Time
}

func NewGuard(repo Repository) *Guard {
	if repo == nil {
		repo = NewRepository()
	}
	return &Guard{repo: repo, now: time.Now}
}

func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

func (g *Guard) HasRole(ctx context.Context, tx pgx.Tx, address string, role Role) (bool, error) {
	if address == "" {
		return false, nil
	}
	return g.repo.HasRole(ctx, tx, address, role)
}

// Require fails with an authorization error unless address holds role.
func (g *Guard) Require(ctx context.Context, tx pgx.Tx, address string, role Role) error {
	ok, err := g.HasRole(ctx, tx, address, role)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Unauthorized("role", role, "%s lacks %s", address, role)
	}
	return nil
}

// EnsureRunning rejects the operation while the marketplace is paused.
func (g *Guard) EnsureRunning(ctx context.Context, tx pgx.Tx) error {
	paused, err := g.repo.Paused(ctx, tx)
	if err != nil {
		return err
	}
	if paused {
		return fault.Paused()
	}
	return nil
}

func (g *Guard) Paused(ctx context.Context, tx pgx.Tx) (bool, error) {
	return g.repo.Paused(ctx, tx)
}

func (g *Guard) SetPaused(ctx context.Context, tx pgx.Tx, caller string, paused bool) error {
	if err := g.Require(ctx, tx, caller, RoleAdmin); err != nil {
		return err
	}
	return g.repo.SetPaused(ctx, tx, paused, g.now())
}

func (g *Guard) Grant(ctx context.Context, tx pgx.Tx, caller, address string, role Role) error {
	if err := g.Require(ctx, tx, caller, RoleAdmin); err != nil {
		return err
	}
	if address == "" {
		return fault.Validation("role", role, "address required")
	}
	if !role.Valid() {
		return fault.Validation("role", role, "unknown role")
	}
	return g.repo.Grant(ctx, tx, address, role, g.now())
}

// Revoke removes a grant. An admin cannot drop their own admin role, which
// keeps at least one admin able to unpause.
func (g *Guard) Revoke(ctx context.Context, tx pgx.Tx, caller, address string, role Role) error {
	if err := g.Require(ctx, tx, caller, RoleAdmin); err != nil {
		return err
	}
	if !role.Valid() {
		return fault.Validation("role", role, "unknown role")
	}
	if role == RoleAdmin && caller == address {
		return fault.Validation("role", role, "admins cannot revoke their own admin role")
	}
	return g.repo.Revoke(ctx, tx, address, role)
}

// Bootstrap grants admin without a caller check. Used once at startup for the
// configured admin addresses.
func (g *Guard) Bootstrap(ctx context.Context, tx pgx.Tx, address string) error {
	if address == "" {
		return fault.Validation("role", RoleAdmin, "address required")
	}
	return g.repo.Grant(ctx, tx, address, RoleAdmin, g.now())
}
