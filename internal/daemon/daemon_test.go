package daemon_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"waitline/internal/api"
	"waitline/internal/broadcast"
	"waitline/internal/config"
	"waitline/internal/daemon"
	"waitline/internal/queue"
	"waitline/internal/roster"
	"waitline/internal/store/memory"
	"waitline/internal/testsupport"
)

type harness struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	roster *roster.Roster
	base   string
	token  string
}

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *roster.Roster) {
	t.Helper()
	st := memory.New()
	ros, err := roster.Load(cfg.Roster.Path, nil)
	if err != nil {
		t.Fatalf("roster.Load: %v", err)
	}
	hub := broadcast.NewHub(st, broadcast.Options{})
	engine, err := queue.NewEngine(queue.Options{Store: st, Registry: ros, Notifier: hub})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Deps{Store: st, Engine: engine, Roster: ros, Hub: hub}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, ros
}

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{
		testsupport.WithDriver(config.DriverMemory),
		testsupport.WithRoster(
			testsupport.Active(1, "Ana Lima"),
			testsupport.Active(2, "Bruno Costa"),
			testsupport.Active(3, "Carla Dias"),
		),
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	d, ros := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &harness{
		cfg:    cfg,
		daemon: d,
		roster: ros,
		base:   "http://" + d.Addr(),
		token:  cfg.Paths.APIToken,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.base+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (h *harness) arrive(t *testing.T, workerID int64) api.Entry {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/api/queue/arrivals", api.ArrivalRequest{WorkerID: workerID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("arrive %d: status %d body %s", workerID, resp.StatusCode, body)
	}
	var entry api.Entry
	decode(t, body, &entry)
	return entry
}

func (h *harness) snapshot(t *testing.T) api.Snapshot {
	t.Helper()
	resp, body := h.do(t, http.MethodGet, "/api/queue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot: status %d body %s", resp.StatusCode, body)
	}
	var snap api.Snapshot
	decode(t, body, &snap)
	return snap
}

func decode(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func errorKind(t *testing.T, body []byte) string {
	t.Helper()
	var resp api.ErrorResponse
	decode(t, body, &resp)
	return resp.Error.Kind
}

func waitingWorkers(snap api.Snapshot) []int64 {
	ids := make([]int64, 0, len(snap.Waiting))
	for _, e := range snap.Waiting {
		ids = append(ids, e.WorkerID)
	}
	return ids
}

func TestAPIQueueLifecycle(t *testing.T) {
	h := startDaemon(t)

	first := h.arrive(t, 1)
	h.arrive(t, 2)
	third := h.arrive(t, 3)
	if first.Rank != 1 || third.Rank != 3 || first.State != "waiting" {
		t.Fatalf("unexpected arrivals: %+v %+v", first, third)
	}
	if first.DisplayName != "Ana Lima" {
		t.Fatalf("display name = %q", first.DisplayName)
	}

	resp, body := h.do(t, http.MethodPost, "/api/queue/moves", api.MoveRequest{EntryID: third.ID, Rank: 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move: status %d body %s", resp.StatusCode, body)
	}
	var moved api.MoveResult
	decode(t, body, &moved)
	if !moved.Moved || moved.Entry.Rank != 1 {
		t.Fatalf("move result = %+v", moved)
	}

	resp, body = h.do(t, http.MethodPost, "/api/queue/dispatch", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispatch: status %d body %s", resp.StatusCode, body)
	}
	var dispatched api.Entry
	decode(t, body, &dispatched)
	if dispatched.WorkerID != 3 || dispatched.State != "in_service" {
		t.Fatalf("dispatched = %+v", dispatched)
	}

	snap := h.snapshot(t)
	if got := fmt.Sprint(waitingWorkers(snap)); got != "[1 2]" {
		t.Fatalf("waiting = %s, want [1 2]", got)
	}
	for i, e := range snap.Waiting {
		if e.Rank != i+1 {
			t.Fatalf("rank %d at position %d", e.Rank, i)
		}
	}
	if len(snap.InService) != 1 {
		t.Fatalf("in service = %d, want 1", len(snap.InService))
	}

	resp, body = h.do(t, http.MethodPost, "/api/queue/returns", api.ReturnRequest{EntryID: dispatched.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("return: status %d body %s", resp.StatusCode, body)
	}
	var returned api.Entry
	decode(t, body, &returned)
	if returned.Rank != 3 {
		t.Fatalf("returned rank = %d, want 3", returned.Rank)
	}

	resp, body = h.do(t, http.MethodDelete, fmt.Sprintf("/api/queue/%d", first.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: status %d body %s", resp.StatusCode, body)
	}
	snap = h.snapshot(t)
	if got := fmt.Sprint(waitingWorkers(snap)); got != "[2 3]" {
		t.Fatalf("waiting after remove = %s, want [2 3]", got)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	h := startDaemon(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"empty dispatch", http.MethodPost, "/api/queue/dispatch", nil, http.StatusConflict, "empty_queue"},
		{"unknown worker", http.MethodPost, "/api/queue/arrivals", api.ArrivalRequest{WorkerID: 99}, http.StatusNotFound, "not_found"},
		{"zero worker", http.MethodPost, "/api/queue/arrivals", api.ArrivalRequest{}, http.StatusBadRequest, "invalid_argument"},
		{"missing body", http.MethodPost, "/api/queue/returns", nil, http.StatusBadRequest, "invalid_argument"},
		{"unknown field", http.MethodPost, "/api/queue/moves", map[string]any{"entry": 1}, http.StatusBadRequest, "invalid_argument"},
		{"bad id", http.MethodDelete, "/api/queue/abc", nil, http.StatusBadRequest, "invalid_argument"},
		{"missing entry", http.MethodDelete, "/api/queue/42", nil, http.StatusNotFound, "not_found"},
		{"unknown route", http.MethodGet, "/api/nope", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := h.do(t, tc.method, tc.path, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tc.status, body)
			}
			if kind := errorKind(t, body); kind != tc.kind {
				t.Fatalf("kind = %q, want %q", kind, tc.kind)
			}
		})
	}

	entry := h.arrive(t, 1)
	resp, body := h.do(t, http.MethodPost, "/api/queue/returns", api.ReturnRequest{EntryID: entry.ID})
	if resp.StatusCode != http.StatusConflict || errorKind(t, body) != "invalid_state" {
		t.Fatalf("return waiting entry: status %d body %s", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/queue/moves", api.MoveRequest{EntryID: entry.ID, Rank: 5})
	if resp.StatusCode != http.StatusBadRequest || errorKind(t, body) != "invalid_argument" {
		t.Fatalf("move past tail: status %d body %s", resp.StatusCode, body)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := startDaemon(t, testsupport.WithAPIToken("s3cret"))

	resp, err := http.Get(h.base + "/api/queue")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(h.base + "/api/queue?access_token=s3cret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with query token = %d, want 200", resp.StatusCode)
	}

	if snap := h.snapshot(t); len(snap.Waiting) != 0 {
		t.Fatalf("expected empty line, got %d", len(snap.Waiting))
	}
}

func TestAPIEchoesRequestID(t *testing.T) {
	h := startDaemon(t)

	req, err := http.NewRequest(http.MethodGet, h.base+"/api/workers", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
	var workers api.WorkerList
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(workers.Workers) != 3 || workers.Workers[0].DisplayName != "Ana Lima" {
		t.Fatalf("workers = %+v", workers.Workers)
	}

	resp2, _ := h.do(t, http.MethodGet, "/api/status", nil)
	if resp2.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestStatusReportsRuntime(t *testing.T) {
	h := startDaemon(t)
	h.arrive(t, 2)

	resp, body := h.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status api.DaemonStatus
	decode(t, body, &status)
	if !status.Running || !status.StoreHealthy || status.StoreDriver != config.DriverMemory {
		t.Fatalf("status = %+v", status)
	}
	if status.Workers != 3 || status.Waiting != 1 || status.InService != 0 {
		t.Fatalf("counts = %+v", status)
	}
	if status.LockFilePath != h.cfg.LockPath() {
		t.Fatalf("lock path = %q", status.LockFilePath)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	h := startDaemon(t)

	second, _ := newDaemon(t, h.cfg)
	err := second.Start(context.Background())
	if err == nil {
		second.Stop()
		t.Fatal("expected second daemon to fail acquiring the lock")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRosterRemovalPurgesEntries(t *testing.T) {
	h := startDaemon(t)
	h.arrive(t, 1)
	h.arrive(t, 2)
	h.arrive(t, 3)

	testsupport.WriteRoster(t, h.cfg.Roster.Path,
		testsupport.Active(1, "Ana Lima"),
		testsupport.Active(3, "Carla Dias"),
	)
	removed, err := h.roster.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if fmt.Sprint(removed) != "[2]" {
		t.Fatalf("removed = %v", removed)
	}

	snap := h.snapshot(t)
	if got := fmt.Sprint(waitingWorkers(snap)); got != "[1 3]" {
		t.Fatalf("waiting = %s, want [1 3]", got)
	}
	if snap.Waiting[1].Rank != 2 {
		t.Fatalf("rank after purge = %d, want 2", snap.Waiting[1].Rank)
	}
}

func TestWebSocketFeedStreamsSnapshots(t *testing.T) {
	h := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, "ws://"+h.daemon.Addr()+"/api/queue/ws")
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	var snap api.Snapshot
	decode(t, data, &snap)
	if snap.Sequence == 0 {
		t.Fatal("expected sequence on initial snapshot")
	}

	h.arrive(t, 2)
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		var next api.Snapshot
		decode(t, data, &next)
		if next.Sequence <= snap.Sequence {
			t.Fatalf("sequence went from %d to %d", snap.Sequence, next.Sequence)
		}
		snap = next
		if len(next.Waiting) == 1 {
			if next.Waiting[0].WorkerID != 2 {
				t.Fatalf("waiting = %+v", next.Waiting)
			}
			return
		}
	}
}

func TestWebSocketFeedAnswersPingsWhileStreaming(t *testing.T) {
	h := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, "ws://"+h.daemon.Addr()+"/api/queue/ws")
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	steps := []func(){
		func() { h.arrive(t, 1) },
		func() { h.arrive(t, 2) },
		func() { h.arrive(t, 3) },
		func() { h.do(t, http.MethodPost, "/api/queue/dispatch", nil) },
		func() { h.do(t, http.MethodPost, "/api/queue/dispatch", nil) },
		func() { h.do(t, http.MethodPost, "/api/queue/dispatch", nil) },
	}
	for i, step := range steps {
		if err := wsutil.WriteClientMessage(conn, ws.OpPing, []byte(fmt.Sprintf("ping-%d", i))); err != nil {
			t.Fatalf("write ping %d: %v", i, err)
		}
		step()
	}

	rd := &wsutil.Reader{Source: conn, State: ws.StateClientSide, CheckUTF8: true}
	pongs := 0
	drained := false
	for pongs < len(steps) || !drained {
		hdr, err := rd.NextFrame()
		if err != nil {
			t.Fatalf("read frame after %d pongs: %v", pongs, err)
		}
		payload, err := io.ReadAll(rd)
		if err != nil {
			t.Fatalf("read payload: %v", err)
		}
		switch hdr.OpCode {
		case ws.OpPong:
			if want := fmt.Sprintf("ping-%d", pongs); string(payload) != want {
				t.Fatalf("pong payload = %q, want %q", payload, want)
			}
			pongs++
		case ws.OpText:
			var snap api.Snapshot
			decode(t, payload, &snap)
			if len(snap.InService) == len(steps)/2 && len(snap.Waiting) == 0 {
				drained = true
			}
		default:
			t.Fatalf("unexpected opcode %v", hdr.OpCode)
		}
	}
}

func TestEventStreamDeliversSnapshots(t *testing.T) {
	h := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/api/queue/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	arrived := false
	sawID := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			sawID = true
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap api.Snapshot
		decode(t, []byte(strings.TrimPrefix(line, "data: ")), &snap)
		if !arrived {
			arrived = true
			h.arrive(t, 3)
			continue
		}
		if len(snap.Waiting) == 1 && snap.Waiting[0].WorkerID == 3 {
			if !sawID {
				t.Fatal("expected id lines before data")
			}
			return
		}
	}
	t.Fatalf("event stream ended before the arrival was observed: %v", scanner.Err())
}
