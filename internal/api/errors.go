package api

import (
	"errors"
	"fmt"
	"net/http"

	"waitline/internal/queue"
)

// ErrorBody is the payload inside an error response.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope returned for failed requests.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Kinds used by the HTTP layer that the engine never produces.
const (
	KindUnauthorized     = "unauthorized"
	KindMethodNotAllowed = "method_not_allowed"
	KindInternal         = "internal"
)

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind string) int {
	switch queue.Kind(kind) {
	case queue.KindNotFound:
		return http.StatusNotFound
	case queue.KindInvalidState, queue.KindEmptyQueue:
		return http.StatusConflict
	case queue.KindInvalidArgument:
		return http.StatusBadRequest
	case queue.KindConflict, queue.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

// FromError builds the response for err and its HTTP status. Domain
// messages pass through; storage failures get a generic message.
func FromError(err error) (int, ErrorResponse) {
	kind := queue.KindOf(err)
	if kind == "" {
		return http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{Kind: KindInternal, Message: "internal error"}}
	}
	body := ErrorBody{Kind: string(kind)}
	switch kind {
	case queue.KindConflict:
		body.Message = "the queue is busy; try again"
	case queue.KindStoreUnavailable:
		body.Message = "queue storage is unavailable"
	default:
		var qe *queue.Error
		if errors.As(err, &qe) && qe.Message != "" {
			body.Message = qe.Message
		} else {
			body.Message = string(kind)
		}
	}
	return StatusForKind(body.Kind), ErrorResponse{Error: body}
}

// NewError builds a response for a transport-level failure.
func NewError(kind, format string, args ...any) (int, ErrorResponse) {
	return StatusForKind(kind), ErrorResponse{Error: ErrorBody{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// RemoteError is an API error decoded on the client side. It carries the
// kind so errors.Is against queue sentinels keeps working across the wire.
type RemoteError struct {
	Status int
	Body   ErrorBody
}

func (e *RemoteError) Error() string {
	if e.Body.Message == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Body.Kind)
	}
	return e.Body.Message
}

// ErrorKind implements queue.ErrorClassifier.
func (e *RemoteError) ErrorKind() string {
	return e.Body.Kind
}

// Is matches queue sentinels by kind.
func (e *RemoteError) Is(target error) bool {
	var qe *queue.Error
	if errors.As(target, &qe) && qe != nil {
		return string(qe.Kind) == e.Body.Kind
	}
	return false
}
