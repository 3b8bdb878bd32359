package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/sourcegraph/conc"

	"waitline/internal/broadcast"
	"waitline/internal/config"
	"waitline/internal/logging"
	"waitline/internal/notifications"
	"waitline/internal/preflight"
	"waitline/internal/queue"
	"waitline/internal/roster"
	"waitline/internal/telemetry"
)

// Deps are the components the daemon runs. Announcer and Telemetry are
// optional; the rest are required.
type Deps struct {
	Store     queue.Store
	Engine    *queue.Engine
	Roster    *roster.Roster
	Hub       *broadcast.Hub
	Announcer *notifications.Announcer
	Telemetry *telemetry.Provider
}

// Daemon owns the process lifecycle and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  queue.Store
	engine *queue.Engine
	roster *roster.Roster
	hub    *broadcast.Hub
	ntfy   *notifications.Announcer
	tel    *telemetry.Provider
	telEnd sync.Once
	server *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        conc.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StoreDriver  string
	StoreHealthy bool
	LockFilePath string
	RosterPath   string
	Workers      int
	Waiting      int
	InService    int
	Subscribers  int
	Sequence     uint64
	StartedAt    time.Time
	Queue        telemetry.QueueStats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Engine == nil || deps.Roster == nil || deps.Hub == nil {
		return nil, errors.New("daemon requires config, store, engine, roster, and hub")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    deps.Store,
		engine:   deps.Engine,
		roster:   deps.Roster,
		hub:      deps.Hub,
		ntfy:     deps.Announcer,
		tel:      deps.Telemetry,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks, and launches the
// broadcast hub, roster watcher, and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another waitline daemon instance is already running")
	}

	results := preflight.RunAll(ctx, d.cfg, d.store)
	for _, r := range results {
		if !r.Passed {
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.Bool("optional", r.Optional),
			)
		}
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		_ = d.lock.Unlock()
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Name)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.roster.OnRemoved(d.purgeWorkers)

	d.wg.Go(func() {
		_ = d.hub.Run(runCtx)
	})
	if d.ntfy != nil {
		d.wg.Go(func() {
			d.ntfy.Run(runCtx)
		})
	}
	if d.cfg.Roster.Watch {
		d.wg.Go(func() {
			if err := d.roster.Watch(runCtx); err != nil {
				logging.WarnWithContext(d.logger, "roster watch unavailable; reload requires restart", "roster_watch_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "roster edits are not picked up until restart"),
				)
			}
		})
	}

	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.wg.Wait()
		_ = d.lock.Unlock()
		return err
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("waitline daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store_driver", d.cfg.Store.Driver),
		logging.String("api_bind", d.server.addr()),
	)
	return nil
}

// Stop stops background work and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("waitline daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.tel != nil {
		d.telEnd.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs = append(errs, d.tel.Shutdown(ctx))
		})
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Addr returns the address the API server is listening on.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats := d.hub.Stats()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StoreDriver:  d.cfg.Store.Driver,
		LockFilePath: d.lockPath,
		RosterPath:   d.roster.Path(),
		Workers:      len(d.roster.List()),
		Subscribers:  stats.Subscribers,
		Sequence:     stats.Sequence,
		StartedAt:    d.startedAt,
	}
	if err := d.store.Ping(ctx); err == nil {
		status.StoreHealthy = true
	}
	if snap, err := d.engine.Snapshot(ctx); err == nil {
		status.Waiting = snap.Len()
		status.InService = len(snap.InService)
	}
	if d.tel != nil {
		if stats, err := d.tel.QueueStats(ctx); err == nil {
			status.Queue = stats
		}
	}
	return status
}

// purgeWorkers drops queue entries for workers that left the roster.
func (d *Daemon) purgeWorkers(ctx context.Context, workerIDs []int64) {
	for _, id := range workerIDs {
		removed, err := d.engine.PurgeWorker(ctx, id)
		if err != nil {
			logging.ErrorWithContext(d.logger, "failed to purge removed worker", "worker_purge_failed",
				logging.Int64(logging.FieldWorkerID, id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the worker's entries manually with waitline queue remove"),
			)
			continue
		}
		if removed > 0 {
			d.logger.Info("removed worker entries after roster change",
				logging.Int64(logging.FieldWorkerID, id),
				logging.Int("removed", removed),
			)
		}
	}
}
