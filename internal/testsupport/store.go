package testsupport

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"waitline/internal/config"
	"waitline/internal/logging"
	"waitline/internal/queue"
	"waitline/internal/store"
)

// MustOpenStore opens the store configured by cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
	t.Helper()

	st, err := store.Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// Registry is a mutable in-memory worker registry.
type Registry struct {
	mu      sync.RWMutex
	workers map[int64]queue.Worker
}

// NewRegistry returns a registry where every listed id is an eligible worker.
func NewRegistry(ids ...int64) *Registry {
	r := &Registry{workers: make(map[int64]queue.Worker, len(ids))}
	for _, id := range ids {
		r.Set(queue.Worker{ID: id, Badge: fmt.Sprintf("B%03d", id), DisplayName: fmt.Sprintf("Worker %d", id), Eligible: true})
	}
	return r
}

// Set adds or replaces a worker.
func (r *Registry) Set(w queue.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
}

// Lookup implements queue.Registry.
func (r *Registry) Lookup(_ context.Context, workerID int64) (queue.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return queue.Worker{}, queue.Newf(queue.KindNotFound, "", "worker %d not registered", workerID)
	}
	return w, nil
}

// Recorder collects notifier changes.
type Recorder struct {
	mu      sync.Mutex
	changes []queue.Change
}

// Notify implements queue.Notifier.
func (r *Recorder) Notify(c queue.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

// Changes returns a copy of the recorded changes.
func (r *Recorder) Changes() []queue.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// NewEngine builds an engine over st with the given registry and recorder.
func NewEngine(t testing.TB, st queue.Store, reg queue.Registry, rec queue.Notifier) *queue.Engine {
	t.Helper()

	engine, err := queue.NewEngine(queue.Options{Store: st, Registry: reg, Notifier: rec})
	if err != nil {
		t.Fatalf("queue.NewEngine: %v", err)
	}
	return engine
}

// AssertDense fails the test unless waiting ranks are exactly 1..N and
// in-service entries carry rank 0.
func AssertDense(t testing.TB, snap queue.Snapshot) {
	t.Helper()

	for idx, entry := range snap.Waiting {
		if entry.Rank != idx+1 {
			t.Fatalf("waiting[%d] rank = %d, want %d (entry %d)", idx, entry.Rank, idx+1, entry.ID)
		}
		if entry.State != queue.StateWaiting {
			t.Fatalf("waiting[%d] state = %s", idx, entry.State)
		}
	}
	for _, entry := range snap.InService {
		if entry.Rank != queue.InServiceRank {
			t.Fatalf("in-service entry %d rank = %d, want %d", entry.ID, entry.Rank, queue.InServiceRank)
		}
	}
}

// WaitingWorkers returns the worker ids of the waiting line in rank order.
func WaitingWorkers(snap queue.Snapshot) []int64 {
	out := make([]int64, 0, len(snap.Waiting))
	for _, entry := range snap.Waiting {
		out = append(out, entry.WorkerID)
	}
	return out
}
