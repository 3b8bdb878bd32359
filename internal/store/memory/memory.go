// Package memory provides an in-process ordering store. Transactions hold a
// single mutex for their whole duration and work on a private copy of the
// table, so they are trivially serializable and roll back by discarding the
// copy.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"waitline/internal/queue"
)

// Store keeps queue entries in memory.
type Store struct {
	mu     sync.Mutex
	rows   map[int64]queue.Entry
	nextID int64
	closed bool
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{rows: make(map[int64]queue.Entry), nextID: 1, now: time.Now}
}

var errClosed = errors.New("memory store closed")

// WithTx runs fn against a copy of the table and swaps it in on success.
func (s *Store) WithTx(ctx context.Context, fn func(queue.Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.Wrap(queue.KindStoreUnavailable, "", errClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{rows: make(map[int64]queue.Entry, len(s.rows)), nextID: s.nextID, now: s.now}
	for id, row := range s.rows {
		tx.rows[id] = row
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.rows = tx.rows
	s.nextID = tx.nextID
	return nil
}

// Snapshot returns the waiting line and the in-service entries.
func (s *Store) Snapshot(ctx context.Context) (queue.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.Snapshot{}, queue.Wrap(queue.KindStoreUnavailable, "", errClosed)
	}
	tx := &memTx{rows: s.rows}
	waiting, _ := tx.ListWaiting()
	inService, _ := tx.ListInService()
	return queue.Snapshot{Waiting: waiting, InService: inService, TakenAt: s.now().UTC()}, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.Wrap(queue.KindStoreUnavailable, "", errClosed)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memTx struct {
	rows   map[int64]queue.Entry
	nextID int64
	now    func() time.Time
}

func (t *memTx) NextRank() (int, error) {
	maxRank := 0
	for _, row := range t.rows {
		if row.State == queue.StateWaiting && row.Rank > maxRank {
			maxRank = row.Rank
		}
	}
	return maxRank + 1, nil
}

func (t *memTx) ShiftRanks(r queue.RankRange, delta int) (int64, error) {
	if r.Empty() || delta == 0 {
		return 0, nil
	}
	var affected int64
	stamp := t.stamp()
	for id, row := range t.rows {
		if row.State != queue.StateWaiting || !r.Contains(row.Rank) {
			continue
		}
		row.Rank += delta
		row.UpdatedAt = stamp
		t.rows[id] = row
		affected++
	}
	return affected, nil
}

func (t *memTx) ListWaiting() ([]*queue.Entry, error) {
	out := t.filter(queue.StateWaiting)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListInService() ([]*queue.Entry, error) {
	out := t.filter(queue.StateInService)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArrivedAt.Equal(out[j].ArrivedAt) {
			return out[i].ArrivedAt.Before(out[j].ArrivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) Head() (*queue.Entry, error) {
	waiting, _ := t.ListWaiting()
	if len(waiting) == 0 {
		return nil, nil
	}
	return waiting[0], nil
}

func (t *memTx) Get(id int64) (*queue.Entry, error) {
	row, ok := t.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (t *memTx) Insert(entry *queue.Entry) error {
	if entry == nil {
		return errors.New("insert nil entry")
	}
	entry.ID = t.nextID
	t.nextID++
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = t.stamp()
	}
	t.rows[entry.ID] = *entry
	return nil
}

func (t *memTx) Update(id int64, patch queue.EntryPatch) (*queue.Entry, error) {
	row, ok := t.rows[id]
	if !ok {
		return nil, queue.Newf(queue.KindNotFound, "", "entry %d not found", id)
	}
	patch.Apply(&row)
	row.UpdatedAt = t.stamp()
	t.rows[id] = row
	return &row, nil
}

func (t *memTx) Delete(id int64) (bool, error) {
	if _, ok := t.rows[id]; !ok {
		return false, nil
	}
	delete(t.rows, id)
	return true, nil
}

func (t *memTx) EntriesForWorker(workerID int64) ([]*queue.Entry, error) {
	out := make([]*queue.Entry, 0)
	for _, row := range t.rows {
		if row.WorkerID == workerID {
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) filter(state queue.State) []*queue.Entry {
	out := make([]*queue.Entry, 0, len(t.rows))
	for _, row := range t.rows {
		if row.State == state {
			out = append(out, &row)
		}
	}
	return out
}

func (t *memTx) stamp() time.Time {
	if t.now == nil {
		return time.Now().UTC()
	}
	return t.now().UTC()
}
