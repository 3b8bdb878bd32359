package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"waitline/internal/broadcast"
	"waitline/internal/config"
	"waitline/internal/daemon"
	"waitline/internal/logging"
	"waitline/internal/notifications"
	"waitline/internal/queue"
	"waitline/internal/roster"
	"waitline/internal/store"
	"waitline/internal/telemetry"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the waitline daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg, logging.Overrides{
		Level:       opts.LogLevel,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon setup failed", "daemon_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store.driver, store.dsn and roster.path"),
		)
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the lock file and store access"),
			logging.String(logging.FieldImpact, "queue operations are unavailable"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("waitline daemon shutting down")
	return nil
}

// Build opens the store and roster and assembles a daemon that has not been
// started yet. The caller owns Close.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ros, err := roster.Load(cfg.Roster.Path, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load roster: %w", err)
	}

	hub := broadcast.NewHub(st, broadcast.Options{
		BufferSize:       cfg.Broadcast.BufferSize,
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
		Logger:           logger,
	})
	var announcer *notifications.Announcer
	notifier := queue.Notifier(hub)
	if cfg.Notifications.NtfyTopic != "" {
		announcer = notifications.NewAnnouncer(notifications.NewService(cfg), ros, logger)
		notifier = queue.MultiNotifier(hub, announcer)
	}
	tel := telemetry.New(logger)
	engine, err := queue.NewEngine(queue.Options{
		Store:         st,
		Registry:      ros,
		Notifier:      notifier,
		Tracer:        tel.Tracer(),
		Meter:         tel.Meter(),
		Logger:        logger,
		RetryAttempts: cfg.Store.RetryAttempts,
		TxTimeout:     cfg.TxTimeout(),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	d, err := daemon.New(cfg, daemon.Deps{
		Store:     st,
		Engine:    engine,
		Roster:    ros,
		Hub:       hub,
		Announcer: announcer,
		Telemetry: tel,
	}, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

// PIDPath returns the pid file written while the daemon runs.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "waitline.pid")
}

// ReadPID returns the pid recorded in the daemon pid file.
func ReadPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(PIDPath(cfg))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.New("pid file is malformed")
	}
	return pid, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
