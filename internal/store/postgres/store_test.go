package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"waitline/internal/queue"
	"waitline/internal/store/postgres"
	"waitline/internal/testsupport"
)

func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("WAITLINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAITLINE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Pool().Exec(ctx, "TRUNCATE queue_entries RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestEngineOnPostgres(t *testing.T) {
	st := openTestStore(t)
	recorder := &testsupport.Recorder{}
	engine := testsupport.NewEngine(t, st, testsupport.NewRegistry(1, 2, 3, 4), recorder)
	ctx := context.Background()

	var ids []int64
	for _, worker := range []int64{1, 2, 3, 4} {
		entry, err := engine.Enqueue(ctx, worker)
		if err != nil {
			t.Fatalf("Enqueue(%d): %v", worker, err)
		}
		ids = append(ids, entry.ID)
	}
	if _, err := engine.Reposition(ctx, ids[3], 1); err != nil {
		t.Fatalf("Reposition: %v", err)
	}
	dispatched, err := engine.DispatchNext(ctx)
	if err != nil {
		t.Fatalf("DispatchNext: %v", err)
	}
	if dispatched.ID != ids[3] {
		t.Fatalf("dispatched %d, want %d", dispatched.ID, ids[3])
	}
	if _, err := engine.Remove(ctx, ids[1]); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	snap, err := engine.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	testsupport.AssertDense(t, snap)
	if got := testsupport.WaitingWorkers(snap); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("waiting workers = %v, want [1 3]", got)
	}
	if len(snap.InService) != 1 {
		t.Fatalf("in service = %d, want 1", len(snap.InService))
	}
}

func TestOpenUnreachableIsUnavailable(t *testing.T) {
	if os.Getenv("WAITLINE_TEST_POSTGRES_DSN") == "" {
		t.Skip("WAITLINE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := postgres.Open(ctx, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	if !errors.Is(err, queue.ErrStoreUnavailable) {
		t.Fatalf("Open err = %v, want store_unavailable", err)
	}
}

func TestSerializationFailureIsConflict(t *testing.T) {
	err := postgres.Classify(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	if !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("Classify(40001) = %v, want conflict", err)
	}
	err = postgres.Classify(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	if !errors.Is(err, queue.ErrStoreUnavailable) {
		t.Fatalf("Classify(08006) = %v, want store_unavailable", err)
	}
	err = postgres.Classify(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	if queue.KindOf(err) != "" {
		t.Fatalf("Classify(23505) kind = %q, want none", queue.KindOf(err))
	}
}
