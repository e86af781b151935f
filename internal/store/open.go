package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"altanian/internal/db"
	"altanian/internal/game"
)

// Options selects and configures a ledger store.
type Options struct {
	Driver         string // "postgres" (default) or "sqlite"
	DatabaseURL    string
	SQLitePath     string
	ConnectTimeout time.Duration
	AppName        string
}

// Open builds the ledger store named by opts.Driver. The returned func
// releases the underlying connections.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (game.Store, func(), error) {
	switch opts.Driver {
	case "", "postgres":
		pool, err := db.Connect(ctx, opts.DatabaseURL, db.PoolOptions{
			AppName:        opts.AppName,
			ConnectTimeout: opts.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		pg := NewPostgres(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return pg, pool.Close, nil
	case "sqlite":
		s, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
