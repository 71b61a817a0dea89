package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName tags every pool connection so chaos only terminates
// backends that belong to the run.
const ApplicationName = "escrowflow-stress"

// Source selects where the harness finds PostgreSQL.
type Source struct {
	// DSN reuses an existing database inside an isolated schema.
	DSN string
	// Local falls back to a server on 127.0.0.1 when Docker is unavailable.
	Local bool
}

// Harness owns the database, the migrated pool and their teardown.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness provisions PostgreSQL per src and applies the schema.
func NewHarness(ctx context.Context, src Source, maxConns int32) (*Harness, error) {
	var (
		c   = &PGContainer{}
		dsn = src.DSN
		err error
	)
	switch {
	case dsn != "":
	case src.Local:
		if dsn, err = InitLocalDatabase(ctx); err != nil {
			return nil, err
		}
	default:
		if c, dsn, err = StartPostgres16(ctx, ""); err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, src.DSN != "", maxConns)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Harness{container: c, pool: pool, dsn: dsn, teardown: teardown}, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Harness) DSN() string {
	return h.dsn
}

// Close drops the run schema, closes the pool and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	h.pool.Close()
	err := h.teardown(ctx)
	if terr := h.container.Terminate(ctx); err == nil {
		err = terr
	}
	return err
}
