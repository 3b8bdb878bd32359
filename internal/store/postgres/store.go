// Package postgres implements the ordering store on PostgreSQL using pgx/v5.
//
// Every write runs at SERIALIZABLE isolation; PostgreSQL aborts one side of
// any interleaving that could break serial equivalence with SQLSTATE 40001,
// which surfaces as a queue conflict for the engine to retry.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waitline/internal/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockKey serializes concurrent migrators across daemons.
const migrationLockKey = 0x7761_6974

// Store is a PostgreSQL implementation of queue.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to connString, verifies connectivity, and applies migrations.
func Open(ctx context.Context, connString string) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, queue.Wrap(queue.KindStoreUnavailable, "", fmt.Errorf("postgres: connect: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, queue.Wrap(queue.KindStoreUnavailable, "", fmt.Errorf("postgres: ping: %w", err))
	}

	s := NewFromPool(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	return s, nil
}

// NewFromPool wraps an existing pool without running migrations.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin migrations: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockKey)); err != nil {
		return fmt.Errorf("postgres: lock migrations: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS waitline_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("postgres: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM waitline_migrations WHERE filename = $1)`,
			entry.Name(),
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}
		data, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("postgres: execute migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO waitline_migrations (filename) VALUES ($1)`, entry.Name()); err != nil {
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit migrations: %w", err)
	}
	return nil
}

// WithTx runs fn inside a SERIALIZABLE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(queue.Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(fmt.Errorf("postgres: begin: %w", err))
	}
	// Rollback after a successful commit is a no-op.
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("postgres: commit: %w", err))
	}
	return nil
}

// Snapshot reads both lists from one REPEATABLE READ, read-only transaction.
func (s *Store) Snapshot(ctx context.Context) (queue.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return queue.Snapshot{}, classify(fmt.Errorf("postgres: begin snapshot: %w", err))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	view := &pgTx{ctx: ctx, tx: tx}
	waiting, err := view.ListWaiting()
	if err != nil {
		return queue.Snapshot{}, classify(err)
	}
	inService, err := view.ListInService()
	if err != nil {
		return queue.Snapshot{}, classify(err)
	}
	return queue.Snapshot{Waiting: waiting, InService: inService, TakenAt: s.now().UTC()}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return queue.Wrap(queue.KindStoreUnavailable, "", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
