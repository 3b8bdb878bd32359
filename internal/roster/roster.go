// Package roster loads the worker registry from a TOML file and keeps it
// current while the daemon runs.
//
// The file lists one [[workers]] table per operator:
//
//	[[workers]]
//	id = 12
//	badge = "B012"
//	name = "ana lima"
//	status = "active"
//
// Only workers with status "active" may join the line. Display names are
// normalized to title case.
package roster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"waitline/internal/logging"
	"waitline/internal/queue"
)

// Worker statuses accepted in the roster file.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type fileWorker struct {
	ID     int64  `toml:"id"`
	Badge  string `toml:"badge"`
	Name   string `toml:"name"`
	Status string `toml:"status"`
}

type rosterFile struct {
	Workers []fileWorker `toml:"workers"`
}

// Roster is an in-memory worker registry backed by a file.
type Roster struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	workers   map[int64]queue.Worker
	onRemoved func(ctx context.Context, workerIDs []int64)
}

// Load reads path and returns a ready roster. A missing file yields an empty
// roster so the daemon can start before the roster is provisioned.
func Load(path string, logger *slog.Logger) (*Roster, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Roster{
		path:    path,
		logger:  logging.NewComponentLogger(logger, "roster"),
		workers: make(map[int64]queue.Worker),
	}
	workers, err := readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("roster file not found; starting with no workers",
			logging.String("path", path),
			logging.String(logging.FieldEventType, "roster_missing"),
			logging.String(logging.FieldErrorHint, "create the roster file or set roster.path"),
		)
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	r.workers = workers
	r.logger.Info("roster loaded", logging.String("path", path), logging.Int("workers", len(workers)))
	return r, nil
}

// Path returns the roster file location.
func (r *Roster) Path() string {
	return r.path
}

// OnRemoved registers fn to run after a reload drops workers.
func (r *Roster) OnRemoved(fn func(ctx context.Context, workerIDs []int64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemoved = fn
}

// Lookup implements queue.Registry.
func (r *Roster) Lookup(_ context.Context, workerID int64) (queue.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return queue.Worker{}, queue.Newf(queue.KindNotFound, "", "worker %d is not on the roster", workerID)
	}
	return w, nil
}

// List returns every worker ordered by ID.
func (r *Roster) List() []queue.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]queue.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reload re-reads the roster file and returns the IDs that disappeared. On
// a parse error the previous roster stays in effect.
func (r *Roster) Reload(ctx context.Context) ([]int64, error) {
	workers, err := readFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		// Editors that replace files briefly remove them; keep the old set.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	var removed []int64
	for id := range r.workers {
		if _, ok := workers[id]; !ok {
			removed = append(removed, id)
		}
	}
	r.workers = workers
	callback := r.onRemoved
	r.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	r.logger.Info("roster reloaded",
		logging.Int("workers", len(workers)),
		logging.Int("removed", len(removed)),
	)
	if len(removed) > 0 && callback != nil {
		callback(ctx, removed)
	}
	return removed, nil
}

func readFile(path string) (map[int64]queue.Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var file rosterFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}

	titler := cases.Title(language.Und)
	workers := make(map[int64]queue.Worker, len(file.Workers))
	for idx, fw := range file.Workers {
		if fw.ID <= 0 {
			return nil, fmt.Errorf("roster %s: workers[%d]: id must be positive", path, idx)
		}
		if _, dup := workers[fw.ID]; dup {
			return nil, fmt.Errorf("roster %s: duplicate worker id %d", path, fw.ID)
		}
		status := strings.ToLower(strings.TrimSpace(fw.Status))
		switch status {
		case "":
			status = StatusActive
		case StatusActive, StatusInactive:
		default:
			return nil, fmt.Errorf("roster %s: worker %d: unknown status %q", path, fw.ID, fw.Status)
		}
		name := strings.Join(strings.Fields(fw.Name), " ")
		if name == "" {
			name = fmt.Sprintf("Worker %d", fw.ID)
		}
		workers[fw.ID] = queue.Worker{
			ID:          fw.ID,
			Badge:       strings.TrimSpace(fw.Badge),
			DisplayName: titler.String(name),
			Eligible:    status == StatusActive,
		}
	}
	return workers, nil
}
