package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Entry describes a queue entry in a transport-friendly format.
type Entry struct {
	ID          int64  `json:"id"`
	WorkerID    int64  `json:"workerId"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Rank        int    `json:"rank"`
	ArrivedAt   string `json:"arrivedAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// Snapshot is the full view of the line.
type Snapshot struct {
	Waiting   []Entry `json:"waiting"`
	InService []Entry `json:"inService"`
	Sequence  uint64  `json:"sequence"`
	TakenAt   string  `json:"takenAt,omitempty"`
}

// MoveResult reports the outcome of a reposition.
type MoveResult struct {
	Entry Entry `json:"entry"`
	Moved bool  `json:"moved"`
}

// RemoveResult confirms a removal.
type RemoveResult struct {
	ID      int64 `json:"id"`
	Removed bool  `json:"removed"`
	Entry   Entry `json:"entry"`
}

// Worker is a roster entry.
type Worker struct {
	ID          int64  `json:"id"`
	Badge       string `json:"badge,omitempty"`
	DisplayName string `json:"displayName"`
	Eligible    bool   `json:"eligible"`
}

// WorkerList wraps the roster listing.
type WorkerList struct {
	Workers []Worker `json:"workers"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	StoreDriver  string           `json:"storeDriver"`
	StoreHealthy bool             `json:"storeHealthy"`
	LockFilePath string           `json:"lockFilePath"`
	RosterPath   string           `json:"rosterPath"`
	Workers      int              `json:"workers"`
	Waiting      int              `json:"waiting"`
	InService    int              `json:"inService"`
	Subscribers  int              `json:"subscribers"`
	Sequence     uint64           `json:"sequence"`
	StartedAt    string           `json:"startedAt,omitempty"`
	Operations   []OperationCount `json:"operations,omitempty"`
	Retries      int64            `json:"retries"`
}

// OperationCount reports how many engine operations of one kind ended with
// the given outcome ("ok" or an error kind).
type OperationCount struct {
	Op      string `json:"op"`
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// ArrivalRequest is the body of POST /api/queue/arrivals.
type ArrivalRequest struct {
	WorkerID int64 `json:"workerId"`
}

// ReturnRequest is the body of POST /api/queue/returns.
type ReturnRequest struct {
	EntryID int64 `json:"entryId"`
}

// MoveRequest is the body of POST /api/queue/moves.
type MoveRequest struct {
	EntryID int64 `json:"entryId"`
	Rank    int   `json:"rank"`
}
