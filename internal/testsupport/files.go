package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// RosterWorker is one [[workers]] table in a roster file.
type RosterWorker struct {
	ID     int64
	Badge  string
	Name   string
	Status string
}

// Active returns an eligible roster worker.
func Active(id int64, name string) RosterWorker {
	return RosterWorker{ID: id, Badge: fmt.Sprintf("B%03d", id), Name: name, Status: "active"}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteRoster renders workers as TOML and writes them to path.
func WriteRoster(t testing.TB, path string, workers ...RosterWorker) {
	t.Helper()

	var b strings.Builder
	for _, w := range workers {
		status := w.Status
		if status == "" {
			status = "active"
		}
		fmt.Fprintf(&b, "[[workers]]\nid = %d\nbadge = %q\nname = %q\nstatus = %q\n\n", w.ID, w.Badge, w.Name, status)
	}
	WriteFile(t, path, b.String())
}
