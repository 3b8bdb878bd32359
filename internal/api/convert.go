package api

import (
	"time"

	"waitline/internal/queue"
)

// FromEntry converts a queue entry to its API representation.
func FromEntry(entry *queue.Entry) Entry {
	if entry == nil {
		return Entry{}
	}
	return Entry{
		ID:          entry.ID,
		WorkerID:    entry.WorkerID,
		DisplayName: entry.DisplayName,
		State:       string(entry.State),
		Rank:        entry.Rank,
		ArrivedAt:   formatTime(entry.ArrivedAt),
		UpdatedAt:   formatTime(entry.UpdatedAt),
	}
}

// FromEntries converts a slice, returning an empty slice for nil input.
func FromEntries(entries []*queue.Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		out = append(out, FromEntry(entry))
	}
	return out
}

// FromSnapshot converts a snapshot stamped with its broadcast sequence.
func FromSnapshot(snap queue.Snapshot, sequence uint64) Snapshot {
	return Snapshot{
		Waiting:   FromEntries(snap.Waiting),
		InService: FromEntries(snap.InService),
		Sequence:  sequence,
		TakenAt:   formatTime(snap.TakenAt),
	}
}

// FromMoveResult converts a reposition outcome.
func FromMoveResult(result queue.MoveResult) MoveResult {
	return MoveResult{Entry: FromEntry(result.Entry), Moved: result.Moved}
}

// FromWorkers converts roster workers.
func FromWorkers(workers []queue.Worker) WorkerList {
	out := make([]Worker, 0, len(workers))
	for _, w := range workers {
		out = append(out, Worker{
			ID:          w.ID,
			Badge:       w.Badge,
			DisplayName: w.DisplayName,
			Eligible:    w.Eligible,
		})
	}
	return WorkerList{Workers: out}
}

// ParseTime parses an API timestamp, returning the zero time on failure.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
