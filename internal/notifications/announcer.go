package notifications

import (
	"context"
	"log/slog"
	"sync/atomic"

	"waitline/internal/logging"
	"waitline/internal/queue"
)

const announcerBuffer = 32

// Announcer turns committed dispatches and returns into notifications. It
// implements queue.Notifier; delivery happens on Run's goroutine.
type Announcer struct {
	svc      Service
	registry queue.Registry
	logger   *slog.Logger
	changes  chan queue.Change
	dropped  atomic.Uint64
}

// NewAnnouncer returns an announcer that resolves names through registry.
func NewAnnouncer(svc Service, registry queue.Registry, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Announcer{
		svc:      svc,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "notifications"),
		changes:  make(chan queue.Change, announcerBuffer),
	}
}

// Notify queues dispatch and return changes. Other operations are ignored.
func (a *Announcer) Notify(c queue.Change) {
	if c.Op != queue.OpDispatch && c.Op != queue.OpReturn {
		return
	}
	select {
	case a.changes <- c:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many changes were discarded because the buffer was full.
func (a *Announcer) Dropped() uint64 {
	return a.dropped.Load()
}

// Run delivers queued announcements until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-a.changes:
			a.deliver(ctx, c)
		}
	}
}

func (a *Announcer) deliver(ctx context.Context, c queue.Change) {
	data := Payload{"entryId": c.EntryID}
	if a.registry != nil {
		if worker, err := a.registry.Lookup(ctx, c.WorkerID); err == nil {
			data["name"] = worker.DisplayName
		}
	}
	event := EventDispatched
	if c.Op == queue.OpReturn {
		event = EventReturned
	}
	if err := a.svc.Publish(ctx, event, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(a.logger, "notification delivery failed", "notification_failed",
			logging.String(logging.FieldOp, string(c.Op)),
			logging.Int64(logging.FieldEntryID, c.EntryID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "announcement was not delivered"),
		)
	}
}
