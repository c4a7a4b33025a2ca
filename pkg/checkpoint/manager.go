package checkpoint

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore selects the checkpoint backend. When pool is non-nil the
// Postgres store is used after a connectivity probe; any failure logs a
// warning and falls back to the in-memory store so the agent can still
// serve turns without durable checkpoints.
func NewStore(ctx context.Context, pool *pgxpool.Pool) Store {
	if pool == nil {
		slog.Info("Using in-memory checkpoint store")
		return NewMemoryStore()
	}
	if err := pool.Ping(ctx); err != nil {
		slog.Warn("Failed to initialize Postgres checkpoint store, falling back to in-memory",
			"error", err)
		return NewMemoryStore()
	}
	slog.Info("Using Postgres checkpoint store")
	return NewPostgresStore(pool)
}
