package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"waitline/internal/config"
	"waitline/internal/daemonrun"
	"waitline/internal/queueaccess"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// Dialer connects to a running daemon.
type Dialer func(ctx context.Context) (*queueaccess.Client, error)

// ConfigDialer dials the daemon described by cfg.
func ConfigDialer(cfg *config.Config) Dialer {
	return func(ctx context.Context) (*queueaccess.Client, error) {
		return queueaccess.Dial(ctx, cfg)
	}
}

// Launch starts a detached waitline daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls until the daemon API answers.
func WaitForClient(ctx context.Context, dial Dialer, timeout time.Duration) (*queueaccess.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := dial(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers.
func EnsureStarted(ctx context.Context, dial Dialer, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := dial(ctx); err == nil {
		defer client.Close()
		status, err := client.Status(ctx)
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(ctx, dial, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()
	status, err := client.Status(ctx)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, PID: status.PID}, nil
}

// Stop signals the daemon recorded in the pid file to shut down and waits
// for its API to go away.
func Stop(ctx context.Context, cfg *config.Config, dial Dialer, timeout time.Duration) error {
	pid, err := daemonrun.ReadPID(cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("daemon is not running")
		}
		return fmt.Errorf("read pid file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return WaitForShutdown(ctx, dial, timeout)
}

// WaitForShutdown waits for the daemon API to stop answering.
func WaitForShutdown(ctx context.Context, dial Dialer, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := dial(ctx)
		if err != nil {
			return nil
		}
		_ = client.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}
