package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates random backends opened under one application name.
type Killer struct {
	pool    *pgxpool.Pool
	appName string
	every   time.Duration
	kills   atomic.Int64
}

func NewKiller(pool *pgxpool.Pool, appName string, every time.Duration) *Killer {
	if every <= 0 {
		every = 2 * time.Second
	}
	return &Killer{pool: pool, appName: appName, every: every}
}

// Run fires on every tick with one-in-five odds until ctx ends or stop closes.
func (k *Killer) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(k.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var killed bool
			err := k.pool.QueryRow(ctx, `SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false)
                FROM (SELECT pid FROM pg_stat_activity
                      WHERE datname = current_database()
                        AND application_name = $1
                        AND pid <> pg_backend_pid()
                      ORDER BY random() LIMIT 1) victim`, k.appName).Scan(&killed)
			if err == nil && killed {
				k.kills.Add(1)
			}
		}
	}
}

// Kills reports how many backends were terminated.
func (k *Killer) Kills() int64 {
	return k.kills.Load()
}
