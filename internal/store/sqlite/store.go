// Package sqlite implements the ordering store on SQLite.
//
// Write transactions run on a dedicated connection opened with BEGIN
// IMMEDIATE, so SQLite's database lock serializes writers: a second writer
// waits up to busy_timeout and then fails with SQLITE_BUSY, which surfaces as
// a queue conflict for the engine to retry. Reads use deferred transactions
// and never block writers under WAL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"waitline/internal/queue"
)

const (
	sqliteBusyCode   = 5
	sqliteLockedCode = 6
	busyTimeoutMS    = 5000
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open initializes or connects to the queue database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	ctx = ensureContext(ctx)
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsnFor(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, queue.Wrap(queue.KindStoreUnavailable, "", fmt.Errorf("ping sqlite db: %w", err))
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func dsnFor(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "synchronous(NORMAL)")
	return path + "?" + params.Encode()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ensureContext(ctx)); err != nil {
		return queue.Wrap(queue.KindStoreUnavailable, "", err)
	}
	return nil
}

// WithTx runs fn inside a BEGIN IMMEDIATE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(queue.Tx) error) error {
	ctx = ensureContext(ctx)
	return s.withImmediate(ctx, func(q querier) error {
		return fn(&sqlTx{ctx: ctx, q: q, now: s.now})
	})
}

// Snapshot reads both lists inside one deferred read transaction.
func (s *Store) Snapshot(ctx context.Context) (queue.Snapshot, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.Snapshot{}, classify(fmt.Errorf("begin snapshot: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	view := &sqlTx{ctx: ctx, q: tx, now: s.now}
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

func (s *Store) withImmediate(ctx context.Context, fn func(querier) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return classify(fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return classify(fmt.Errorf("begin immediate: %w", err))
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// The caller's context may already be done; rollback must still run.
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK;")
	}()

	if err := fn(conn); err != nil {
		return classify(err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// Extended result codes keep the primary code in the low byte.
		switch coder.Code() & 0xff {
		case sqliteBusyCode, sqliteLockedCode:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// classify tags busy errors as conflicts and leaves everything else for the
// engine to report.
func classify(err error) error {
	if err == nil || queue.KindOf(err) != "" {
		return err
	}
	if isSQLiteBusy(err) {
		return queue.Wrap(queue.KindConflict, "", err)
	}
	return err
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
