package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"waitline/internal/config"
)

const userAgent = "waitline/1.0"

// Event identifies a notification type.
type Event string

const (
	EventDispatched Event = "dispatched"
	EventReturned   Event = "returned"
	EventTest       Event = "test"
)

// Payload carries event fields used to build the message.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := buildPayload(event, data)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func buildPayload(event Event, data Payload) (payload, bool) {
	name := strings.TrimSpace(stringValue(data, "name"))
	if name == "" {
		name = "Next in line"
	}
	switch event {
	case EventDispatched:
		message := fmt.Sprintf("🔔 Now serving: %s", name)
		if id := stringValue(data, "entryId"); id != "" {
			message += fmt.Sprintf(" (entry %s)", id)
		}
		return payload{
			title:    "Waitline - Now Serving",
			message:  message,
			tags:     []string{"waitline", "dispatch"},
			priority: "high",
		}, true
	case EventReturned:
		message := fmt.Sprintf("↩️ %s is back in line", name)
		if rank := stringValue(data, "rank"); rank != "" {
			message += fmt.Sprintf(" at position %s", rank)
		}
		return payload{
			title:   "Waitline - Back in Line",
			message: message,
			tags:    []string{"waitline", "return"},
		}, true
	case EventTest:
		return payload{
			title:   "Waitline - Test",
			message: "✅ Notifications are working",
			tags:    []string{"waitline", "test"},
		}, true
	}
	return payload{}, false
}

func stringValue(data Payload, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
