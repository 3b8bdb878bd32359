package queue

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can map them to user-facing
// outcomes without inspecting storage errors.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidArgument  Kind = "invalid_argument"
	KindEmptyQueue       Kind = "empty_queue"
	KindConflict         Kind = "conflict"
	KindStoreUnavailable Kind = "store_unavailable"
)

// ErrorClassifier allows errors to declare their classification for status mapping.
type ErrorClassifier interface {
	ErrorKind() string
}

// Error is the structured failure returned by engine operations.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is matching. Any *Error with the same Kind matches.
var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState     = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrEmptyQueue       = &Error{Kind: KindEmptyQueue, Message: "queue is empty"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "transaction conflict"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
)

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Kind == other.Kind
}

// ErrorKind implements ErrorClassifier.
func (e *Error) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) && qe != nil {
		return qe.Kind
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return Kind(classifier.ErrorKind())
	}
	return ""
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. Errors that already carry a
// kind keep it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) && qe != nil {
		if qe.Op == "" && op != "" {
			cp := *qe
			cp.Op = op
			return &cp
		}
		return err
	}
	return &Error{Kind: kind, Op: op, Message: string(kind), Err: err}
}

// IsTransient reports whether a retry of the same operation may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConflict)
}
