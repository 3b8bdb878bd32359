package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waitline/internal/api"
	"waitline/internal/config"
	"waitline/internal/daemonrun"
	"waitline/internal/queue"
	"waitline/internal/testsupport"
)

type cliEnv struct {
	configPath string
}

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(cfg), "waitline.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
api_bind = %q

[store]
driver = %q
startup_attempts = 1

[roster]
path = %q
watch = false

[logging]
format = "json"
level = "error"
`, cfg.Paths.DataDir, cfg.Paths.APIBind, cfg.Store.Driver, cfg.Roster.Path)
	testsupport.WriteFile(t, path, content)
	return path
}

func rosterOptions() testsupport.ConfigOption {
	return testsupport.WithRoster(
		testsupport.Active(1, "Ana Lima"),
		testsupport.Active(2, "Bruno Costa"),
	)
}

func setupDaemonEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("WAITLINE_API_TOKEN", "")
	cfg := testsupport.NewConfig(t, testsupport.WithDriver(config.DriverMemory), rosterOptions())

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

	cfg.Paths.APIBind = d.Addr()
	return &cliEnv{configPath: writeConfig(t, cfg)}
}

func setupLocalEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("WAITLINE_API_TOKEN", "")
	cfg := testsupport.NewConfig(t, rosterOptions())
	// Nothing listens on the discard port, so the CLI falls back to SQLite.
	cfg.Paths.APIBind = "127.0.0.1:9"
	return &cliEnv{configPath: writeConfig(t, cfg)}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("waitline %s: %v (stderr %s)", strings.Join(args, " "), err, stderr)
	}
	return out
}

func TestQueueCommandsAgainstDaemon(t *testing.T) {
	env := setupDaemonEnv(t)

	out := env.mustRun(t, "queue", "arrive", "1")
	if !strings.Contains(out, "Ana Lima joined the line at rank 1") {
		t.Fatalf("arrive output = %q", out)
	}
	env.mustRun(t, "queue", "arrive", "2")

	var entry api.Entry
	if err := json.Unmarshal([]byte(env.mustRun(t, "--json", "queue", "next")), &entry); err != nil {
		t.Fatalf("decode next: %v", err)
	}
	if entry.WorkerID != 1 || entry.State != "in_service" {
		t.Fatalf("dispatched = %+v", entry)
	}

	out = env.mustRun(t, "queue", "list")
	if !strings.Contains(out, "Bruno Costa") || !strings.Contains(out, "In service") {
		t.Fatalf("list output = %q", out)
	}

	out = env.mustRun(t, "queue", "return", fmt.Sprint(entry.ID))
	if !strings.Contains(out, "back in line at rank 2") {
		t.Fatalf("return output = %q", out)
	}

	var snap api.Snapshot
	if err := json.Unmarshal([]byte(env.mustRun(t, "--json", "queue", "list")), &snap); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(snap.Waiting) != 2 || snap.Waiting[1].ID != entry.ID {
		t.Fatalf("waiting = %+v", snap.Waiting)
	}

	out = env.mustRun(t, "queue", "move", fmt.Sprint(entry.ID), "1")
	if !strings.Contains(out, "Moved Ana Lima to rank 1") {
		t.Fatalf("move output = %q", out)
	}

	_, _, err := env.run(t, "queue", "arrive", "99")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("arrive unknown = %v, want not_found", err)
	}

	out = env.mustRun(t, "status")
	if !strings.Contains(out, "running") || !strings.Contains(out, "2 waiting") {
		t.Fatalf("status output = %q", out)
	}

	out = env.mustRun(t, "workers", "list")
	if !strings.Contains(out, "Bruno Costa") {
		t.Fatalf("workers output = %q", out)
	}
}

func TestQueueCommandsFallBackToStore(t *testing.T) {
	env := setupLocalEnv(t)

	out, stderr, err := env.run(t, "queue", "arrive", "2")
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if !strings.Contains(out, "Bruno Costa joined") || !strings.Contains(stderr, "daemon not reachable") {
		t.Fatalf("arrive output = %q stderr = %q", out, stderr)
	}

	var snap api.Snapshot
	if err := json.Unmarshal([]byte(env.mustRun(t, "--json", "queue", "list")), &snap); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(snap.Waiting) != 1 || snap.Waiting[0].WorkerID != 2 {
		t.Fatalf("waiting = %+v", snap.Waiting)
	}

	out = env.mustRun(t, "queue", "remove", fmt.Sprint(snap.Waiting[0].ID))
	if !strings.Contains(out, "Removed entry") {
		t.Fatalf("remove output = %q", out)
	}
	if _, _, err := env.run(t, "queue", "next"); !errors.Is(err, queue.ErrEmptyQueue) {
		t.Fatalf("next on empty = %v", err)
	}

	out = env.mustRun(t, "status")
	if !strings.Contains(out, "not running") || !strings.Contains(out, "Store") {
		t.Fatalf("status output = %q", out)
	}
}

func TestQueueArgumentValidation(t *testing.T) {
	env := setupLocalEnv(t)
	if _, _, err := env.run(t, "queue", "arrive", "abc"); err == nil || !strings.Contains(err.Error(), "invalid worker id") {
		t.Fatalf("arrive abc = %v", err)
	}
	if _, _, err := env.run(t, "queue", "move", "1", "x"); err == nil || !strings.Contains(err.Error(), "invalid rank") {
		t.Fatalf("move bad rank = %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	target := filepath.Join(dir, "cfg", "waitline.toml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error when config exists")
	}

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", target, "config", "validate"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out.String(), "Configuration valid") {
		t.Fatalf("validate output = %q", out.String())
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	t.Setenv("WAITLINE_NTFY_TOPIC", "")
	env := setupLocalEnv(t)
	out := env.mustRun(t, "test-notify")
	if !strings.Contains(out, "Notifications disabled") {
		t.Fatalf("test-notify output = %q", out)
	}
}

func TestSummarizeOperationsTreatsEmptyQueueAsCompleted(t *testing.T) {
	got := summarizeOperations([]api.OperationCount{
		{Op: "enqueue", Outcome: "ok", Count: 4},
		{Op: "dispatch", Outcome: "empty_queue", Count: 1},
		{Op: "return", Outcome: "invalid_state", Count: 2},
	}, 3)
	if got != "5 completed, 2 rejected, 3 retries" {
		t.Fatalf("summary = %q", got)
	}
}
