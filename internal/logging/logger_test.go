package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waitline/internal/config"
	"waitline/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Logging.File = true

	logger, err := logging.NewFromConfig(&cfg, logging.Overrides{})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("file message")

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "file message") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func bufferLogger(t *testing.T, buf *bytes.Buffer, format, level string) *slog.Logger {
	t.Helper()
	logger, err := logging.New(logging.Options{Format: format, Level: level, Writer: buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return logger
}

func TestNewFromConfigAppliesLevelOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Logging.File = true
	cfg.Logging.Level = "warn"

	logger, err := logging.NewFromConfig(&cfg, logging.Overrides{Level: "debug"})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("retrying transaction")

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "retrying transaction") {
		t.Fatalf("expected debug message with override, got %q", content)
	}
}

func TestNewFromConfigKeepsConfiguredLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Logging.File = true
	cfg.Logging.Level = "warn"

	logger, err := logging.NewFromConfig(&cfg, logging.Overrides{})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("routine message")
	logger.Warn("store slow")

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "routine message") {
		t.Fatalf("info message leaked past warn level: %q", content)
	}
	if !strings.Contains(string(content), "store slow") {
		t.Fatalf("expected warn message, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleSubjectShowsEntryAndOp(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf, "console", "info")
	logging.NewComponentLogger(logger, "queue").Info("queue entry dispatched",
		logging.Int64(logging.FieldEntryID, 7),
		logging.String(logging.FieldOp, "dispatch"),
		logging.Int(logging.FieldRank, 0),
	)
	out := buf.String()
	for _, want := range []string{"[queue]", "Entry #7 (dispatch)", "queue entry dispatched", "Rank: 0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestJSONLoggerRendersErrorsAsStrings(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf, "json", "debug")
	logger.Warn("store hiccup", logging.Error(errors.New("database is locked")))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record["error"] != "database is locked" {
		t.Fatalf("unexpected error field: %v", record["error"])
	}
	if record["level"] != "warn" {
		t.Fatalf("unexpected level: %v", record["level"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestWithContextAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf, "json", "info")
	ctx := logging.WithCorrelationID(context.Background(), "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("expected correlation id, got %v", record[logging.FieldCorrelationID])
	}
}

func TestErrorWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf, "json", "info")
	logging.ErrorWithContext(logger, "store failed", "store_error")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldEventType] != "store_error" {
		t.Fatalf("unexpected event type: %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatal("expected error hint default")
	}
}

func TestConsoleSubjectFallsBackToWorker(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf, "console", "info")
	logging.NewComponentLogger(logger, "daemon").Info("worker purged",
		logging.Int64(logging.FieldWorkerID, 3),
		logging.String(logging.FieldOp, "purge_worker"),
		logging.String("note", "two words"),
	)
	out := buf.String()
	if !strings.Contains(out, "Worker #3 (purge_worker)") {
		t.Fatalf("expected worker subject in %q", out)
	}
	if !strings.Contains(out, "Note: \"two words\"") {
		t.Fatalf("expected quoted field value in %q", out)
	}
}

func TestWarnWithContextKeepsCallerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf, "json", "info")
	logging.WarnWithContext(logger, "roster reload failed", "roster_reload_failed",
		logging.String(logging.FieldImpact, "old roster stays active"),
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldImpact] != "old roster stays active" {
		t.Fatalf("impact overwritten: %v", record[logging.FieldImpact])
	}
	if record[logging.FieldErrorHint] != "check logs for details" {
		t.Fatalf("unexpected hint: %v", record[logging.FieldErrorHint])
	}
}
