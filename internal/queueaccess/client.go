package queueaccess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"waitline/internal/api"
	"waitline/internal/config"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient returns a client for the API at baseURL.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q must use http or https", baseURL)
	}
	return &Client{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// BaseURL derives the client URL from the daemon bind address. Wildcard
// hosts are replaced by loopback.
func BaseURL(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(cfg.Paths.APIBind))
	if err != nil {
		return "http://" + cfg.Paths.APIBind
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Dial connects to the daemon configured by cfg and verifies it answers.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	client, err := NewClient(BaseURL(cfg), cfg.Paths.APIToken)
	if err != nil {
		return nil, err
	}
	if _, err := client.Status(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Close is a no-op kept so the client fits Session cleanup.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Snapshot fetches the current line.
func (c *Client) Snapshot(ctx context.Context) (api.Snapshot, error) {
	var out api.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/queue", nil, &out)
	return out, err
}

// Arrive enqueues a worker.
func (c *Client) Arrive(ctx context.Context, workerID int64) (api.Entry, error) {
	var out api.Entry
	err := c.do(ctx, http.MethodPost, "/api/queue/arrivals", api.ArrivalRequest{WorkerID: workerID}, &out)
	return out, err
}

// Dispatch moves the head of the line into service.
func (c *Client) Dispatch(ctx context.Context) (api.Entry, error) {
	var out api.Entry
	err := c.do(ctx, http.MethodPost, "/api/queue/dispatch", nil, &out)
	return out, err
}

// Return sends an in-service entry back to the tail.
func (c *Client) Return(ctx context.Context, entryID int64) (api.Entry, error) {
	var out api.Entry
	err := c.do(ctx, http.MethodPost, "/api/queue/returns", api.ReturnRequest{EntryID: entryID}, &out)
	return out, err
}

// Move repositions a waiting entry.
func (c *Client) Move(ctx context.Context, entryID int64, rank int) (api.MoveResult, error) {
	var out api.MoveResult
	err := c.do(ctx, http.MethodPost, "/api/queue/moves", api.MoveRequest{EntryID: entryID, Rank: rank}, &out)
	return out, err
}

// Remove deletes an entry.
func (c *Client) Remove(ctx context.Context, entryID int64) (api.RemoveResult, error) {
	var out api.RemoveResult
	err := c.do(ctx, http.MethodDelete, "/api/queue/"+strconv.FormatInt(entryID, 10), nil, &out)
	return out, err
}

// Workers lists the roster known to the daemon.
func (c *Client) Workers(ctx context.Context) (api.WorkerList, error) {
	var out api.WorkerList
	err := c.do(ctx, http.MethodGet, "/api/workers", nil, &out)
	return out, err
}

// Watch streams snapshots from the WebSocket feed and calls fn for each
// one until ctx is done, fn returns an error, or the daemon closes the feed.
func (c *Client) Watch(ctx context.Context, fn func(api.Snapshot) error) error {
	wsURL := *c.base
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/api/queue/ws"
	if c.token != "" {
		q := wsURL.Query()
		q.Set("access_token", c.token)
		wsURL.RawQuery = q.Encode()
	}

	conn, _, _, err := ws.Dial(ctx, wsURL.String())
	if err != nil {
		return fmt.Errorf("connect to snapshot feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closed wsutil.ClosedError
			if errors.As(err, &closed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read snapshot feed: %w", err)
		}
		var snap api.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Kind == "" {
			envelope.Error = api.ErrorBody{Kind: api.KindInternal, Message: resp.Status}
		}
		return &api.RemoteError{Status: resp.StatusCode, Body: envelope.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
