package broadcast

import (
	"sync"
	"time"
)

// Subscription is one observer's feed. Read from C until it closes.
type Subscription struct {
	ID        string
	CreatedAt time.Time

	ch     chan Message
	hub    *Hub
	once   sync.Once
	closed bool
}

// C returns the channel of published messages.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close removes the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.ID)
}

// deliver is called with the hub lock held.
func (s *Subscription) deliver(msg Message) {
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
		return
	default:
	}
	// Full: drop the oldest pending snapshot to make room for the newest.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- msg:
	default:
	}
}

// close is called with the hub lock held.
func (s *Subscription) close() {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
}
