package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"waitline/internal/api"
	"waitline/internal/queue"
	"waitline/internal/store/memory"
	"waitline/internal/testsupport"
)

type fixedSequence uint64

func (f fixedSequence) Sequence() uint64 { return uint64(f) }

func TestSnapshotEncodesEmptyListsAsArrays(t *testing.T) {
	snap := api.FromSnapshot(queue.Snapshot{}, 3)
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, `"waiting":[]`) || !strings.Contains(got, `"inService":[]`) {
		t.Fatalf("expected empty arrays, got %s", got)
	}
	if !strings.Contains(got, `"sequence":3`) {
		t.Fatalf("expected sequence, got %s", got)
	}
}

func TestFromEntryFormatsTimestamps(t *testing.T) {
	arrived := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("BRT", -3*3600))
	dto := api.FromEntry(&queue.Entry{ID: 4, WorkerID: 9, DisplayName: "Ana", State: queue.StateWaiting, Rank: 2, ArrivedAt: arrived})
	if dto.ArrivedAt != "2026-03-04T08:06:07.890Z" {
		t.Fatalf("arrivedAt = %q", dto.ArrivedAt)
	}
	if dto.UpdatedAt != "" {
		t.Fatalf("zero updatedAt should be omitted, got %q", dto.UpdatedAt)
	}
	if !api.ParseTime(dto.ArrivedAt).Equal(arrived) {
		t.Fatalf("ParseTime round trip mismatch")
	}
}

func TestFromErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		kind    string
		message string
	}{
		{queue.Newf(queue.KindNotFound, "return", "entry 4 not found"), http.StatusNotFound, "not_found", "entry 4 not found"},
		{queue.Newf(queue.KindInvalidState, "", "nope"), http.StatusConflict, "invalid_state", "nope"},
		{queue.Newf(queue.KindInvalidArgument, "", "bad rank"), http.StatusBadRequest, "invalid_argument", "bad rank"},
		{queue.Newf(queue.KindEmptyQueue, "", "no waiting entries"), http.StatusConflict, "empty_queue", "no waiting entries"},
		{queue.Wrap(queue.KindConflict, "", errors.New("SQLITE_BUSY")), http.StatusServiceUnavailable, "conflict", "the queue is busy; try again"},
		{queue.Wrap(queue.KindStoreUnavailable, "", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "store_unavailable", "queue storage is unavailable"},
		{errors.New("raw"), http.StatusInternalServerError, "internal", "internal error"},
	}
	for _, tc := range cases {
		status, resp := api.FromError(fmt.Errorf("wrapped: %w", tc.err))
		if status != tc.status || resp.Error.Kind != tc.kind || resp.Error.Message != tc.message {
			t.Fatalf("FromError(%v) = %d %+v, want %d %s %q", tc.err, status, resp.Error, tc.status, tc.kind, tc.message)
		}
	}
}

func TestRemoteErrorMatchesSentinels(t *testing.T) {
	err := error(&api.RemoteError{Status: 409, Body: api.ErrorBody{Kind: "empty_queue", Message: "no waiting entries"}})
	if !errors.Is(err, queue.ErrEmptyQueue) {
		t.Fatalf("expected empty_queue match")
	}
	if errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("unexpected not_found match")
	}
	if queue.KindOf(err) != queue.KindEmptyQueue {
		t.Fatalf("KindOf = %q", queue.KindOf(err))
	}
}

func TestQueueServiceRoundTrip(t *testing.T) {
	st := memory.New()
	engine := testsupport.NewEngine(t, st, testsupport.NewRegistry(1, 2), nil)
	svc := api.NewQueueService(engine, nil, fixedSequence(9))
	ctx := context.Background()

	first, err := svc.Arrive(ctx, 1)
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	second, err := svc.Arrive(ctx, 2)
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	moved, err := svc.Move(ctx, second.ID, 1)
	if err != nil || !moved.Moved || moved.Entry.Rank != 1 {
		t.Fatalf("Move = %+v, %v", moved, err)
	}
	dispatched, err := svc.Dispatch(ctx)
	if err != nil || dispatched.ID != second.ID || dispatched.State != "in_service" {
		t.Fatalf("Dispatch = %+v, %v", dispatched, err)
	}
	removed, err := svc.Remove(ctx, first.ID)
	if err != nil || !removed.Removed || removed.ID != first.ID {
		t.Fatalf("Remove = %+v, %v", removed, err)
	}
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Sequence != 9 || len(snap.Waiting) != 0 || len(snap.InService) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if workers := svc.Workers(); workers.Workers == nil {
		t.Fatalf("workers should be an empty list, not nil")
	}
}
