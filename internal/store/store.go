// Package store opens the configured ordering store backend.
//
// Backends live in subpackages and implement queue.Store. Open retries the
// initial connection a bounded number of times so the daemon can start while
// the database is still coming up; once open, individual operations never
// retry connection failures here.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"waitline/internal/config"
	"waitline/internal/logging"
	"waitline/internal/queue"
	"waitline/internal/store/memory"
	"waitline/internal/store/postgres"
	"waitline/internal/store/sqlite"
)

// Opener connects to one backend. Tests substitute it to simulate outages.
type Opener func(ctx context.Context) (queue.Store, error)

// Open connects to the backend named by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Store, error) {
	if cfg == nil {
		return nil, errors.New("store: config is required")
	}
	opener, err := OpenerFor(cfg)
	if err != nil {
		return nil, err
	}
	return OpenWithRetry(ctx, opener, cfg.Store.StartupAttempts, cfg.StartupBackoff(), logging.NewComponentLogger(logger, "store"))
}

// OpenerFor returns the connection function for the configured driver.
func OpenerFor(cfg *config.Config) (Opener, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite, "":
		path := cfg.Store.DSN
		if strings.TrimSpace(path) == "" {
			path = cfg.DatabasePath()
		}
		return func(ctx context.Context) (queue.Store, error) {
			return sqlite.Open(ctx, path)
		}, nil
	case config.DriverPostgres:
		dsn := cfg.Store.DSN
		return func(ctx context.Context) (queue.Store, error) {
			return postgres.Open(ctx, dsn)
		}, nil
	case config.DriverMemory:
		return func(context.Context) (queue.Store, error) {
			return memory.New(), nil
		}, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Store.Driver)
	}
}

// OpenWithRetry calls open until it succeeds or attempts run out. Only
// failures classified as store_unavailable are retried; schema or
// configuration problems fail immediately.
func OpenWithRetry(ctx context.Context, open Opener, attempts int, backoff time.Duration, logger *slog.Logger) (queue.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		st, err := open(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("store connected", logging.Int("attempt", attempt))
			}
			return st, nil
		}
		lastErr = err
		if !errors.Is(err, queue.ErrStoreUnavailable) || attempt == attempts {
			break
		}
		logging.WarnWithContext(logger, "store not reachable, retrying", "store_startup_retry",
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Duration("backoff", backoff),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the database is running and store.dsn is correct"),
			logging.String(logging.FieldImpact, "daemon start is delayed"),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("open store: %w", lastErr)
}
