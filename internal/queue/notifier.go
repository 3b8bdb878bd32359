package queue

import (
	"context"
	"time"
)

// Op names an engine operation.
type Op string

const (
	OpEnqueue     Op = "enqueue"
	OpDispatch    Op = "dispatch"
	OpReturn      Op = "return"
	OpReposition  Op = "reposition"
	OpRemove      Op = "remove"
	OpPurgeWorker Op = "purge_worker"
)

// Change describes a committed mutation. Observers re-read the snapshot
// themselves; the change only says that something moved.
type Change struct {
	Op       Op
	EntryID  int64
	WorkerID int64
	At       time.Time
}

// Notifier is called exactly once after every committed mutation.
type Notifier interface {
	Notify(Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Change)

func (f NotifierFunc) Notify(c Change) {
	if f != nil {
		f(c)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Change) {}

// NopNotifier discards every change.
func NopNotifier() Notifier {
	return nopNotifier{}
}

// Registry resolves workers referenced by Enqueue. It returns an error
// matching ErrNotFound when the worker is unknown.
type Registry interface {
	Lookup(ctx context.Context, workerID int64) (Worker, error)
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc func(ctx context.Context, workerID int64) (Worker, error)

func (f RegistryFunc) Lookup(ctx context.Context, workerID int64) (Worker, error) {
	return f(ctx, workerID)
}

// MultiNotifier fans each change out to every non-nil notifier in order.
func MultiNotifier(notifiers ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nopNotifier{}
	}
	return out
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(c Change) {
	for _, n := range m {
		n.Notify(c)
	}
}
