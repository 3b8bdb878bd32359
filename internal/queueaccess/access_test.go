package queueaccess_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"waitline/internal/api"
	"waitline/internal/config"
	"waitline/internal/daemonrun"
	"waitline/internal/queue"
	"waitline/internal/queueaccess"
	"waitline/internal/roster"
	"waitline/internal/store/memory"
	"waitline/internal/testsupport"
)

var errStop = errors.New("stop")

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	opts = append([]testsupport.ConfigOption{
		testsupport.WithDriver(config.DriverMemory),
		testsupport.WithRoster(testsupport.Active(1, "Ana Lima"), testsupport.Active(2, "Bruno Costa")),
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d, err := daemonrun.Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	// Point clients at the ephemeral port the daemon picked.
	cfg.Paths.APIBind = d.Addr()
	return cfg
}

func TestClientRoundTripsOperations(t *testing.T) {
	cfg := startDaemon(t)
	ctx := context.Background()

	client, err := queueaccess.Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Dispatch(ctx); !errors.Is(err, queue.ErrEmptyQueue) {
		t.Fatalf("Dispatch on empty = %v, want empty_queue", err)
	}
	var remote *api.RemoteError
	if _, err := client.Arrive(ctx, 77); !errors.As(err, &remote) || remote.Status != http.StatusNotFound {
		t.Fatalf("Arrive unknown = %v", err)
	}

	first, err := client.Arrive(ctx, 1)
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	second, err := client.Arrive(ctx, 2)
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	moved, err := client.Move(ctx, second.ID, 1)
	if err != nil || !moved.Moved {
		t.Fatalf("Move = %+v, %v", moved, err)
	}
	head, err := client.Dispatch(ctx)
	if err != nil || head.ID != second.ID {
		t.Fatalf("Dispatch = %+v, %v", head, err)
	}
	if _, err := client.Return(ctx, head.ID); err != nil {
		t.Fatalf("Return: %v", err)
	}
	if _, err := client.Remove(ctx, first.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	snap, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Waiting) != 1 || snap.Waiting[0].ID != second.ID || snap.Waiting[0].Rank != 1 {
		t.Fatalf("waiting = %+v", snap.Waiting)
	}
	workers, err := client.Workers(ctx)
	if err != nil || len(workers.Workers) != 2 {
		t.Fatalf("Workers = %+v, %v", workers, err)
	}
}

func TestClientWatchFollowsChanges(t *testing.T) {
	cfg := startDaemon(t, testsupport.WithAPIToken("tok"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := queueaccess.Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var seen []api.Snapshot
	err = client.Watch(ctx, func(snap api.Snapshot) error {
		seen = append(seen, snap)
		if len(seen) == 1 {
			if _, err := client.Arrive(ctx, 2); err != nil {
				return err
			}
			return nil
		}
		if len(snap.Waiting) == 1 {
			return errStop
		}
		return nil
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Watch = %v, want errStop", err)
	}
	if last := seen[len(seen)-1]; last.Waiting[0].WorkerID != 2 {
		t.Fatalf("last snapshot = %+v", last)
	}
}

func TestDialRejectedTokenIsNotBypassed(t *testing.T) {
	cfg := startDaemon(t, testsupport.WithAPIToken("right"))
	cfg.Paths.APIToken = "wrong"

	opened := false
	_, err := queueaccess.OpenWithFallback(
		func() (*queueaccess.Client, error) { return queueaccess.Dial(context.Background(), cfg) },
		func() (queueaccess.Local, error) {
			opened = true
			return queueaccess.Local{}, nil
		},
	)
	if err == nil {
		t.Fatal("expected error for rejected token")
	}
	if opened {
		t.Fatal("fallback should not open the store when the daemon answered")
	}
}

func TestOpenWithFallbackUsesLocalStore(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRoster(testsupport.Active(5, "Eva Reis")))
	ros, err := roster.Load(cfg.Roster.Path, nil)
	if err != nil {
		t.Fatalf("roster.Load: %v", err)
	}

	session, err := queueaccess.OpenWithFallback(
		func() (*queueaccess.Client, error) { return nil, errors.New("connection refused") },
		func() (queueaccess.Local, error) {
			return queueaccess.Local{Store: memory.New(), Roster: ros}, nil
		},
	)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()

	if session.Access.Remote() {
		t.Fatal("expected local access")
	}
	ctx := context.Background()
	entry, err := session.Access.Arrive(ctx, 5)
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	if entry.DisplayName != "Eva Reis" || entry.Rank != 1 {
		t.Fatalf("entry = %+v", entry)
	}
	workers, err := session.Access.Workers(ctx)
	if err != nil || len(workers.Workers) != 1 {
		t.Fatalf("Workers = %+v, %v", workers, err)
	}
}

func TestOpenWithFallbackReportsStoreErrors(t *testing.T) {
	_, err := queueaccess.OpenWithFallback(nil, func() (queueaccess.Local, error) {
		return queueaccess.Local{}, errors.New("disk full")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestBaseURLUsesLoopbackForWildcard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cases := map[string]string{
		"0.0.0.0:7480":   "http://127.0.0.1:7480",
		":7480":          "http://127.0.0.1:7480",
		"10.0.0.5:8080":  "http://10.0.0.5:8080",
		"[::]:9000":      "http://127.0.0.1:9000",
		"localhost:7480": "http://localhost:7480",
	}
	for bind, want := range cases {
		cfg.Paths.APIBind = bind
		if got := queueaccess.BaseURL(cfg); got != want {
			t.Errorf("BaseURL(%q) = %q, want %q", bind, got, want)
		}
	}
	if _, err := queueaccess.NewClient("ftp://host", ""); err == nil {
		t.Fatal("expected scheme error")
	}
}
