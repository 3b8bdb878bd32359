// Package broadcast fans committed queue changes out to observers.
//
// The hub is the engine's Notifier. Notify never blocks: changes land on a
// buffered channel, and when that channel is full the change is dropped
// because a pending change already guarantees a fresh read. The run loop
// re-reads the full snapshot for each change, stamps it with a sequence
// number, and hands it to every subscriber. A slow subscriber loses its
// oldest pending snapshot, never the newest.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"waitline/internal/logging"
	"waitline/internal/queue"
)

const (
	defaultBufferSize       = 64
	defaultSubscriberBuffer = 4
)

// Source provides the snapshot published for each change.
type Source interface {
	Snapshot(ctx context.Context) (queue.Snapshot, error)
}

// Message is one published view of the line.
type Message struct {
	Sequence uint64
	Op       queue.Op
	Snapshot queue.Snapshot
}

// Options configures a Hub.
type Options struct {
	BufferSize       int
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Hub implements queue.Notifier and distributes snapshots.
type Hub struct {
	source  Source
	logger  *slog.Logger
	changes chan queue.Change
	subBuf  int

	mu       sync.Mutex
	subs     map[string]*Subscription
	sequence uint64
	latest   *Message
	dropped  uint64
}

// NewHub returns a hub reading snapshots from source. Call Run to start it.
func NewHub(source Source, opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		source:  source,
		logger:  logging.NewComponentLogger(logger, "broadcast"),
		changes: make(chan queue.Change, opts.BufferSize),
		subBuf:  opts.SubscriberBuffer,
		subs:    make(map[string]*Subscription),
	}
}

// Notify implements queue.Notifier.
func (h *Hub) Notify(c queue.Change) {
	select {
	case h.changes <- c:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// Run publishes the initial snapshot and then one snapshot per batch of
// pending changes until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.publish(ctx, "")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case change := <-h.changes:
			op := change.Op
			// Everything already queued is covered by one fresh read.
		drain:
			for {
				select {
				case next := <-h.changes:
					op = next.Op
				default:
					break drain
				}
			}
			h.publish(ctx, op)
		}
	}
}

func (h *Hub) publish(ctx context.Context, op queue.Op) {
	snap, err := h.source.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.WarnWithContext(h.logger, "snapshot read failed; observers keep the previous view", "broadcast_snapshot_failed",
			logging.String(logging.FieldOp, string(op)),
			logging.Error(err),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sequence++
	msg := &Message{Sequence: h.sequence, Op: op, Snapshot: snap}
	h.latest = msg
	for _, sub := range h.subs {
		sub.deliver(*msg)
	}
	h.logger.Debug("snapshot published",
		logging.Any("sequence", h.sequence),
		logging.Int("waiting", snap.Len()),
		logging.Int("subscribers", len(h.subs)),
	)
}

// Subscribe registers a new observer. The current snapshot, when one has
// been published, is delivered immediately.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		ch:        make(chan Message, h.subBuf),
		hub:       h,
		CreatedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.ID] = sub
	if h.latest != nil {
		sub.deliver(*h.latest)
	}
	h.logger.Debug("observer subscribed", logging.String("subscriber_id", sub.ID))
	return sub
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Sequence    uint64
	Subscribers int
	Dropped     uint64
}

// Stats reports the current sequence, subscriber count and coalesced changes.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Sequence: h.sequence, Subscribers: len(h.subs), Dropped: h.dropped}
}

// Latest returns the most recently published message, if any.
func (h *Hub) Latest() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return Message{}, false
	}
	return *h.latest, true
}

// Sequence returns the number of the latest published snapshot.
func (h *Hub) Sequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sequence
}
