package queue

import "context"

// Store is the transactional persistence boundary for queue entries.
type Store interface {
	// WithTx runs fn inside a serializable transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. Serialization
	// failures surface as errors matching ErrConflict.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// Snapshot reads the waiting and in-service lists in one consistent read.
	Snapshot(ctx context.Context) (Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the reads and writes available inside a transaction. Every
// method only sees state belonging to the surrounding transaction.
type Tx interface {
	// NextRank returns max(rank among waiting)+1, or 1 when nothing waits.
	NextRank() (int, error)
	// ShiftRanks adds delta to every waiting entry whose rank is in r.
	ShiftRanks(r RankRange, delta int) (int64, error)
	ListWaiting() ([]*Entry, error)
	ListInService() ([]*Entry, error)
	// Head returns the waiting entry with the smallest rank, or nil.
	Head() (*Entry, error)
	// Get returns nil, nil when id does not exist.
	Get(id int64) (*Entry, error)
	// Insert stores entry and assigns its ID.
	Insert(entry *Entry) error
	Update(id int64, patch EntryPatch) (*Entry, error)
	// Delete reports whether a row was removed.
	Delete(id int64) (bool, error)
	EntriesForWorker(workerID int64) ([]*Entry, error)
}
