package api

import (
	"context"

	"waitline/internal/queue"
)

// QueueEngine is the subset of queue.Engine the service drives.
type QueueEngine interface {
	Enqueue(ctx context.Context, workerID int64) (*queue.Entry, error)
	DispatchNext(ctx context.Context) (*queue.Entry, error)
	Return(ctx context.Context, entryID int64) (*queue.Entry, error)
	Reposition(ctx context.Context, entryID int64, targetRank int) (queue.MoveResult, error)
	Remove(ctx context.Context, entryID int64) (*queue.Entry, error)
	Snapshot(ctx context.Context) (queue.Snapshot, error)
}

// WorkerLister lists the roster.
type WorkerLister interface {
	List() []queue.Worker
}

// SequenceSource reports the latest broadcast sequence.
type SequenceSource interface {
	Sequence() uint64
}

// QueueService exposes queue operations returning API DTOs.
type QueueService struct {
	engine   QueueEngine
	workers  WorkerLister
	sequence SequenceSource
}

// NewQueueService constructs a QueueService. workers and sequence may be nil.
func NewQueueService(engine QueueEngine, workers WorkerLister, sequence SequenceSource) *QueueService {
	if engine == nil {
		return nil
	}
	return &QueueService{engine: engine, workers: workers, sequence: sequence}
}

// Snapshot returns the current line.
func (s *QueueService) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	var seq uint64
	if s.sequence != nil {
		seq = s.sequence.Sequence()
	}
	return FromSnapshot(snap, seq), nil
}

// Arrive enqueues a worker.
func (s *QueueService) Arrive(ctx context.Context, workerID int64) (Entry, error) {
	entry, err := s.engine.Enqueue(ctx, workerID)
	if err != nil {
		return Entry{}, err
	}
	return FromEntry(entry), nil
}

// Dispatch moves the head of the line into service.
func (s *QueueService) Dispatch(ctx context.Context) (Entry, error) {
	entry, err := s.engine.DispatchNext(ctx)
	if err != nil {
		return Entry{}, err
	}
	return FromEntry(entry), nil
}

// Return sends an in-service entry to the back of the line.
func (s *QueueService) Return(ctx context.Context, entryID int64) (Entry, error) {
	entry, err := s.engine.Return(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	return FromEntry(entry), nil
}

// Move repositions a waiting entry.
func (s *QueueService) Move(ctx context.Context, entryID int64, rank int) (MoveResult, error) {
	result, err := s.engine.Reposition(ctx, entryID, rank)
	if err != nil {
		return MoveResult{}, err
	}
	return FromMoveResult(result), nil
}

// Remove deletes an entry in any state.
func (s *QueueService) Remove(ctx context.Context, entryID int64) (RemoveResult, error) {
	entry, err := s.engine.Remove(ctx, entryID)
	if err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{ID: entryID, Removed: true, Entry: FromEntry(entry)}, nil
}

// Workers lists the roster.
func (s *QueueService) Workers() WorkerList {
	if s.workers == nil {
		return WorkerList{Workers: []Worker{}}
	}
	return FromWorkers(s.workers.List())
}
