package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"waitline/internal/config"
	"waitline/internal/notifications"
	"waitline/internal/queue"
	"waitline/internal/testsupport"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	agent    string
	body     string
}

type capture struct {
	mu       sync.Mutex
	requests []capturedRequest
	arrived  chan struct{}
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{arrived: make(chan struct{}, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			agent:    r.Header.Get("User-Agent"),
			body:     string(body),
		})
		c.mu.Unlock()
		c.arrived <- struct{}{}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic closed"))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func (c *capture) all() []capturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedRequest(nil), c.requests...)
}

func (c *capture) wait(t *testing.T, n int) []capturedRequest {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(c.all()) < n {
		select {
		case <-c.arrived:
		case <-deadline:
			t.Fatalf("received %d notifications, want %d", len(c.all()), n)
		}
	}
	return c.all()
}

func ntfyConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeoutSeconds = 2
	return cfg
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	svc := notifications.NewService(testsupport.NewConfig(t))
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("noop Publish: %v", err)
	}
	if err := notifications.NewService(nil).Publish(context.Background(), notifications.EventDispatched, nil); err != nil {
		t.Fatalf("nil config Publish: %v", err)
	}
}

func TestPublishDispatchedSetsHeaders(t *testing.T) {
	srv, c := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(ntfyConfig(t, srv.URL))

	err := svc.Publish(context.Background(), notifications.EventDispatched, notifications.Payload{
		"name":    "Ana Lima",
		"entryId": int64(12),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	reqs := c.all()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.title != "Waitline - Now Serving" {
		t.Fatalf("title = %q", got.title)
	}
	if got.tags != "waitline,dispatch" {
		t.Fatalf("tags = %q", got.tags)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q", got.priority)
	}
	if !strings.HasPrefix(got.agent, "waitline/") {
		t.Fatalf("user agent = %q", got.agent)
	}
	if !strings.Contains(got.body, "Ana Lima") || !strings.Contains(got.body, "entry 12") {
		t.Fatalf("body = %q", got.body)
	}
}

func TestPublishTestEventOmitsPriority(t *testing.T) {
	srv, c := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(ntfyConfig(t, srv.URL))

	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := c.all()[0]
	if got.priority != "" {
		t.Fatalf("priority = %q, want none", got.priority)
	}
	if got.title != "Waitline - Test" {
		t.Fatalf("title = %q", got.title)
	}
}

func TestPublishReportsServerErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	svc := notifications.NewService(ntfyConfig(t, srv.URL))

	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic closed") {
		t.Fatalf("error = %v", err)
	}
}

func TestPublishRejectsUnknownEvent(t *testing.T) {
	srv, c := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(ntfyConfig(t, srv.URL))

	if err := svc.Publish(context.Background(), notifications.Event("bogus"), nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
	if n := len(c.all()); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
}

func TestAnnouncerDeliversDispatchAndReturn(t *testing.T) {
	srv, c := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(ntfyConfig(t, srv.URL))
	registry := testsupport.NewRegistry(1)
	registry.Set(queue.Worker{ID: 2, DisplayName: "Bruno Costa", Eligible: true})

	announcer := notifications.NewAnnouncer(svc, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		announcer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	announcer.Notify(queue.Change{Op: queue.OpEnqueue, EntryID: 1, WorkerID: 2})
	announcer.Notify(queue.Change{Op: queue.OpDispatch, EntryID: 1, WorkerID: 2})
	announcer.Notify(queue.Change{Op: queue.OpReturn, EntryID: 1, WorkerID: 2})

	reqs := c.wait(t, 2)
	if reqs[0].title != "Waitline - Now Serving" || !strings.Contains(reqs[0].body, "Bruno Costa") {
		t.Fatalf("first notification = %+v", reqs[0])
	}
	if reqs[1].title != "Waitline - Back in Line" || !strings.Contains(reqs[1].body, "Bruno Costa") {
		t.Fatalf("second notification = %+v", reqs[1])
	}
	if announcer.Dropped() != 0 {
		t.Fatalf("dropped = %d", announcer.Dropped())
	}
}

func TestAnnouncerDropsWhenBufferFull(t *testing.T) {
	announcer := notifications.NewAnnouncer(notifications.NewService(nil), nil, nil)
	for i := range 100 {
		announcer.Notify(queue.Change{Op: queue.OpDispatch, EntryID: int64(i)})
	}
	if announcer.Dropped() == 0 {
		t.Fatal("expected drops without a running announcer")
	}
}
