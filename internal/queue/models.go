package queue

import (
	"strings"
	"time"
)

// State represents the lifecycle of a queue entry.
type State string

const (
	StateWaiting   State = "waiting"
	StateInService State = "in_service"
)

// InServiceRank is the sentinel rank carried by entries outside the waiting line.
const InServiceRank = 0

// Unbounded marks an open upper bound in a RankRange.
const Unbounded = -1

var allStates = []State{
	StateWaiting,
	StateInService,
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// Entry is a single request in the waiting line.
type Entry struct {
	ID          int64
	WorkerID    int64
	DisplayName string
	State       State
	Rank        int
	ArrivedAt   time.Time
	UpdatedAt   time.Time
}

// IsWaiting reports whether the entry takes part in the ranked waiting line.
func (e Entry) IsWaiting() bool {
	return e.State == StateWaiting
}

// Clone returns a copy that callers may mutate freely.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// EntryPatch lists the fields Update should change; nil fields are left alone.
type EntryPatch struct {
	State     *State
	Rank      *int
	ArrivedAt *time.Time
}

// Apply copies the non-nil patch fields onto entry.
func (p EntryPatch) Apply(entry *Entry) {
	if entry == nil {
		return
	}
	if p.State != nil {
		entry.State = *p.State
	}
	if p.Rank != nil {
		entry.Rank = *p.Rank
	}
	if p.ArrivedAt != nil {
		entry.ArrivedAt = p.ArrivedAt.UTC()
	}
}

// Empty reports whether the patch changes nothing.
func (p EntryPatch) Empty() bool {
	return p.State == nil && p.Rank == nil && p.ArrivedAt == nil
}

// RankRange is an inclusive range of waiting ranks. To == Unbounded leaves
// the range open at the top.
type RankRange struct {
	From int
	To   int
}

// From returns the range [from, +inf).
func From(from int) RankRange {
	return RankRange{From: from, To: Unbounded}
}

// Between returns the inclusive range [from, to].
func Between(from, to int) RankRange {
	return RankRange{From: from, To: to}
}

// Contains reports whether rank falls inside the range.
func (r RankRange) Contains(rank int) bool {
	if rank < r.From {
		return false
	}
	return r.To == Unbounded || rank <= r.To
}

// Empty reports whether no rank can fall inside the range.
func (r RankRange) Empty() bool {
	return r.To != Unbounded && r.To < r.From
}

// Snapshot is the full view of the line pushed to observers.
type Snapshot struct {
	Waiting   []*Entry
	InService []*Entry
	TakenAt   time.Time
}

// Len returns the number of waiting entries.
func (s Snapshot) Len() int {
	return len(s.Waiting)
}

// MoveResult reports the outcome of Reposition.
type MoveResult struct {
	Entry *Entry
	Moved bool
}

// Worker is the registry's view of an operator that can join the line.
type Worker struct {
	ID          int64
	Badge       string
	DisplayName string
	Eligible    bool
}
