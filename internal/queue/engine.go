package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"waitline/internal/logging"
)

// Options configures an Engine. Store and Registry are required.
type Options struct {
	Store         Store
	Registry      Registry
	Notifier      Notifier
	Logger        *slog.Logger
	RetryAttempts int
	TxTimeout     time.Duration
	Tracer        trace.Tracer
	Meter         metric.Meter
	Clock         func() time.Time
}

// Engine performs the atomic queue operations.
type Engine struct {
	store    Store
	registry Registry
	notifier Notifier
	logger   *slog.Logger
	attempts int
	timeout  time.Duration
	tel      *telemetry
	now      func() time.Time
}

// NewEngine validates opts and returns a ready engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("queue engine: store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("queue engine: registry is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	timeout := opts.TxTimeout
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:    opts.Store,
		registry: opts.Registry,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "queue"),
		attempts: attempts,
		timeout:  timeout,
		tel:      newTelemetry(opts.Tracer, opts.Meter),
		now:      clock,
	}, nil
}

// Store exposes the backing store for read paths such as the broadcast hub.
func (e *Engine) Store() Store {
	return e.store
}

// Enqueue appends the worker to the tail of the waiting line.
func (e *Engine) Enqueue(ctx context.Context, workerID int64) (entry *Entry, err error) {
	ctx = ensureContext(ctx)
	ctx, finish := e.tel.start(ctx, OpEnqueue, attribute.Int64("waitline.worker_id", workerID))
	defer func() { finish(err) }()

	if workerID <= 0 {
		return nil, Newf(KindInvalidArgument, string(OpEnqueue), "worker id must be positive")
	}
	worker, err := e.registry.Lookup(ctx, workerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Newf(KindNotFound, string(OpEnqueue), "worker %d not found", workerID)
		}
		return nil, e.classify(OpEnqueue, fmt.Errorf("lookup worker %d: %w", workerID, err))
	}
	if !worker.Eligible {
		return nil, Newf(KindInvalidState, string(OpEnqueue), "worker %d is not eligible to join the line", workerID)
	}

	err = e.run(ctx, OpEnqueue, func(tx Tx) error {
		rank, err := tx.NextRank()
		if err != nil {
			return fmt.Errorf("next rank: %w", err)
		}
		now := e.now().UTC()
		candidate := &Entry{
			WorkerID:    workerID,
			DisplayName: worker.DisplayName,
			State:       StateWaiting,
			Rank:        rank,
			ArrivedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Insert(candidate); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		entry = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, OpEnqueue, entry, "queue entry enqueued", logging.Int(logging.FieldRank, entry.Rank))
	return entry, nil
}

// DispatchNext moves the head of the waiting line into service.
func (e *Engine) DispatchNext(ctx context.Context) (entry *Entry, err error) {
	ctx = ensureContext(ctx)
	ctx, finish := e.tel.start(ctx, OpDispatch)
	defer func() { finish(err) }()

	err = e.run(ctx, OpDispatch, func(tx Tx) error {
		head, err := tx.Head()
		if err != nil {
			return fmt.Errorf("load head: %w", err)
		}
		if head == nil {
			return Newf(KindEmptyQueue, string(OpDispatch), "no waiting entries")
		}
		state := StateInService
		rank := InServiceRank
		updated, err := tx.Update(head.ID, EntryPatch{State: &state, Rank: &rank})
		if err != nil {
			return fmt.Errorf("mark in service: %w", err)
		}
		if _, err := tx.ShiftRanks(From(1), -1); err != nil {
			return fmt.Errorf("close head gap: %w", err)
		}
		entry = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, OpDispatch, entry, "queue entry dispatched")
	return entry, nil
}

// Return sends an in-service entry back to the tail of the waiting line.
func (e *Engine) Return(ctx context.Context, entryID int64) (entry *Entry, err error) {
	ctx = ensureContext(ctx)
	ctx, finish := e.tel.start(ctx, OpReturn, attribute.Int64("waitline.entry_id", entryID))
	defer func() { finish(err) }()

	if entryID <= 0 {
		return nil, Newf(KindInvalidArgument, string(OpReturn), "entry id must be positive")
	}
	err = e.run(ctx, OpReturn, func(tx Tx) error {
		current, err := tx.Get(entryID)
		if err != nil {
			return fmt.Errorf("load entry: %w", err)
		}
		if current == nil {
			return Newf(KindNotFound, string(OpReturn), "entry %d not found in service", entryID)
		}
		if current.State != StateInService {
			return Newf(KindInvalidState, string(OpReturn), "entry %d is %s, not in service", entryID, current.State)
		}
		rank, err := tx.NextRank()
		if err != nil {
			return fmt.Errorf("next rank: %w", err)
		}
		state := StateWaiting
		arrived := e.now().UTC()
		updated, err := tx.Update(entryID, EntryPatch{State: &state, Rank: &rank, ArrivedAt: &arrived})
		if err != nil {
			return fmt.Errorf("requeue entry: %w", err)
		}
		entry = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, OpReturn, entry, "queue entry returned", logging.Int(logging.FieldRank, entry.Rank))
	return entry, nil
}

// Reposition moves a waiting entry to targetRank, shifting the block of
// entries between the old and new positions by one.
func (e *Engine) Reposition(ctx context.Context, entryID int64, targetRank int) (result MoveResult, err error) {
	ctx = ensureContext(ctx)
	ctx, finish := e.tel.start(ctx, OpReposition,
		attribute.Int64("waitline.entry_id", entryID),
		attribute.Int("waitline.target_rank", targetRank),
	)
	defer func() { finish(err) }()

	if entryID <= 0 {
		return MoveResult{}, Newf(KindInvalidArgument, string(OpReposition), "entry id must be positive")
	}
	var oldRank int
	err = e.run(ctx, OpReposition, func(tx Tx) error {
		result = MoveResult{}
		current, err := tx.Get(entryID)
		if err != nil {
			return fmt.Errorf("load entry: %w", err)
		}
		if current == nil {
			return Newf(KindNotFound, string(OpReposition), "entry %d not found", entryID)
		}
		if current.State != StateWaiting {
			return Newf(KindInvalidState, string(OpReposition), "entry %d is %s, only waiting entries can move", entryID, current.State)
		}
		next, err := tx.NextRank()
		if err != nil {
			return fmt.Errorf("count waiting: %w", err)
		}
		waiting := next - 1
		if targetRank < 1 || targetRank > waiting {
			return Newf(KindInvalidArgument, string(OpReposition), "target rank %d outside 1..%d", targetRank, waiting)
		}
		oldRank = current.Rank
		switch {
		case oldRank == targetRank:
			result = MoveResult{Entry: current, Moved: false}
			return nil
		case oldRank < targetRank:
			if _, err := tx.ShiftRanks(Between(oldRank+1, targetRank), -1); err != nil {
				return fmt.Errorf("shift block forward: %w", err)
			}
		default:
			if _, err := tx.ShiftRanks(Between(targetRank, oldRank-1), 1); err != nil {
				return fmt.Errorf("shift block back: %w", err)
			}
		}
		updated, err := tx.Update(entryID, EntryPatch{Rank: &targetRank})
		if err != nil {
			return fmt.Errorf("set rank: %w", err)
		}
		result = MoveResult{Entry: updated, Moved: true}
		return nil
	})
	if err != nil {
		return MoveResult{}, err
	}
	if !result.Moved {
		e.logger.Debug("queue entry already at target rank",
			logging.Int64(logging.FieldEntryID, entryID),
			logging.Int(logging.FieldRank, targetRank),
		)
		return result, nil
	}
	e.committed(ctx, OpReposition, result.Entry, "queue entry repositioned",
		logging.Int("from_rank", oldRank),
		logging.Int(logging.FieldRank, targetRank),
	)
	return result, nil
}

// Remove deletes an entry in any state and closes the gap it leaves.
func (e *Engine) Remove(ctx context.Context, entryID int64) (removed *Entry, err error) {
	ctx = ensureContext(ctx)
	ctx, finish := e.tel.start(ctx, OpRemove, attribute.Int64("waitline.entry_id", entryID))
	defer func() { finish(err) }()

	if entryID <= 0 {
		return nil, Newf(KindInvalidArgument, string(OpRemove), "entry id must be positive")
	}
	err = e.run(ctx, OpRemove, func(tx Tx) error {
		current, err := tx.Get(entryID)
		if err != nil {
			return fmt.Errorf("load entry: %w", err)
		}
		if current == nil {
			return Newf(KindNotFound, string(OpRemove), "entry %d not found", entryID)
		}
		ok, err := tx.Delete(entryID)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		if !ok {
			return Newf(KindNotFound, string(OpRemove), "entry %d not found", entryID)
		}
		if current.State == StateWaiting {
			if _, err := tx.ShiftRanks(From(current.Rank+1), -1); err != nil {
				return fmt.Errorf("close gap: %w", err)
			}
		}
		removed = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, OpRemove, removed, "queue entry removed")
	return removed, nil
}

// PurgeWorker removes every entry belonging to workerID and renumbers the
// remaining waiting entries. It returns the number of entries removed.
func (e *Engine) PurgeWorker(ctx context.Context, workerID int64) (count int, err error) {
	ctx = ensureContext(ctx)
	ctx, finish := e.tel.start(ctx, OpPurgeWorker, attribute.Int64("waitline.worker_id", workerID))
	defer func() { finish(err) }()

	if workerID <= 0 {
		return 0, Newf(KindInvalidArgument, string(OpPurgeWorker), "worker id must be positive")
	}
	err = e.run(ctx, OpPurgeWorker, func(tx Tx) error {
		count = 0
		entries, err := tx.EntriesForWorker(workerID)
		if err != nil {
			return fmt.Errorf("list worker entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			if _, err := tx.Delete(entry.ID); err != nil {
				return fmt.Errorf("delete entry %d: %w", entry.ID, err)
			}
		}
		count = len(entries)
		return renumberWaiting(tx)
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	e.logger.Info("worker entries purged",
		logging.Int64(logging.FieldWorkerID, workerID),
		logging.Int("removed", count),
	)
	e.notify(OpPurgeWorker, 0, workerID)
	return count, nil
}

// Snapshot returns the current waiting and in-service lists.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx = ensureContext(ctx)
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, e.classify("snapshot", err)
	}
	return snap, nil
}

// renumberWaiting rewrites waiting ranks as 1..N in their current order.
func renumberWaiting(tx Tx) error {
	waiting, err := tx.ListWaiting()
	if err != nil {
		return fmt.Errorf("list waiting: %w", err)
	}
	for idx, entry := range waiting {
		want := idx + 1
		if entry.Rank == want {
			continue
		}
		if _, err := tx.Update(entry.ID, EntryPatch{Rank: &want}); err != nil {
			return fmt.Errorf("renumber entry %d: %w", entry.ID, err)
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, op Op, fn func(Tx) error) error {
	onRetry := func(attempt int, err error) {
		e.tel.retried(ctx, op)
		logging.WithContext(ctx, e.logger).Debug("queue transaction conflict, retrying",
			logging.String(logging.FieldOp, string(op)),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
	}
	err := retryOnConflict(ctx, e.attempts, e.timeout, onRetry, func(attemptCtx context.Context) error {
		return e.store.WithTx(attemptCtx, fn)
	})
	if err != nil {
		return e.classify(op, err)
	}
	return nil
}

// classify guarantees every returned error carries a kind; anything the
// backend did not classify is treated as the store being unavailable.
func (e *Engine) classify(op Op, err error) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == "" {
		logging.ErrorWithContext(e.logger, "queue store failure", "store_error",
			logging.String(logging.FieldOp, string(op)),
			logging.Error(err),
		)
		return Wrap(KindStoreUnavailable, string(op), err)
	}
	if kind == KindConflict {
		e.logger.Warn("queue transaction retries exhausted",
			logging.String(logging.FieldOp, string(op)),
			logging.Int("attempts", e.attempts),
			logging.Error(err),
		)
	}
	return Wrap(kind, string(op), err)
}

func (e *Engine) committed(ctx context.Context, op Op, entry *Entry, msg string, extra ...logging.Attr) {
	attrs := []logging.Attr{
		logging.String(logging.FieldOp, string(op)),
		logging.Int64(logging.FieldEntryID, entry.ID),
		logging.Int64(logging.FieldWorkerID, entry.WorkerID),
	}
	attrs = append(attrs, extra...)
	logging.WithContext(ctx, e.logger).Info(msg, logging.Args(attrs...)...)
	e.notify(op, entry.ID, entry.WorkerID)
}

func (e *Engine) notify(op Op, entryID, workerID int64) {
	e.notifier.Notify(Change{Op: op, EntryID: entryID, WorkerID: workerID, At: e.now().UTC()})
}
