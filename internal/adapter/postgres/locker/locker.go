package locker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/lead-mesh/internal/adapter/postgres"
	portlocker "github.com/alanyang/lead-mesh/internal/port/locker"
)

var _ portlocker.AdvisoryLocker = (*Locker)(nil)

// Locker serializes distribution decisions across replicas with Postgres session
// advisory locks. Lock and unlock must run on the same connection; an unlock on
// another session is a no-op.
type Locker struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

func (l *Locker) WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return postgres.Classify("acquire connection for advisory lock", err)
	}
	defer conn.Release()

	start := time.Now()
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return postgres.Classify("acquire advisory lock", err)
	}
	if waited := time.Since(start); waited > time.Second {
		slog.WarnContext(ctx, "slow advisory lock acquisition", "key", key, "waited", waited)
	}
	// Background context so the unlock still runs when ctx was cancelled mid-fn.
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key) //nolint:errcheck

	return fn(ctx)
}
