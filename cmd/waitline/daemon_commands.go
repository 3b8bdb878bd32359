package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"waitline/internal/api"
	"waitline/internal/daemonctl"
	"waitline/internal/daemonrun"
	"waitline/internal/preflight"
	"waitline/internal/queue"
)

const daemonWaitTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the waitline daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStartCommand(ctx),
		newStopCommand(ctx),
		newStatusCommand(ctx),
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), daemonctl.ConfigDialer(cfg), exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}, daemonWaitTimeout)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := daemonctl.Stop(cmd.Context(), cfg, daemonctl.ConfigDialer(cfg), daemonWaitTimeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
			return nil
		},
	}
}

type statusReport struct {
	Daemon    *api.DaemonStatus  `json:"daemon,omitempty"`
	Workers   *api.WorkerList    `json:"workers,omitempty"`
	Preflight []preflight.Result `json:"preflight,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and store health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := statusReport{}

			client, dialErr := ctx.dialClient(cmd.Context())
			var remote *api.RemoteError
			if errors.As(dialErr, &remote) {
				return dialErr
			}
			if dialErr == nil {
				defer client.Close()
				var status api.DaemonStatus
				var workers api.WorkerList
				g, gctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error {
					var err error
					status, err = client.Status(gctx)
					return err
				})
				g.Go(func() error {
					var err error
					workers, err = client.Workers(gctx)
					return err
				})
				if err := g.Wait(); err != nil {
					return err
				}
				report.Daemon = &status
				report.Workers = &workers
			} else {
				checkCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				local, openErr := openLocal(checkCtx, cfg)
				if openErr == nil {
					defer local.Store.Close()
				}
				report.Preflight = preflight.RunAll(checkCtx, cfg, local.Store)
				if openErr != nil && !errors.Is(openErr, errDaemonRequired) {
					report.Preflight = append(report.Preflight, preflight.Result{Name: "Store", Detail: openErr.Error()})
				}
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(report, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
}

func renderStatus(report statusReport, colorize bool) string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if report.Daemon == nil {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	} else {
		d := report.Daemon
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", d.PID), colorize))
		storeKind := statusOK
		if !d.StoreHealthy {
			storeKind = statusError
		}
		lines = append(lines,
			renderStatusLine("Store", storeKind, d.StoreDriver, colorize),
			renderStatusLine("Line", statusInfo, fmt.Sprintf("%d waiting, %d in service", d.Waiting, d.InService), colorize),
			renderStatusLine("Observers", statusInfo, fmt.Sprintf("%d (sequence %d)", d.Subscribers, d.Sequence), colorize),
			renderStatusLine("Roster", statusInfo, fmt.Sprintf("%d workers from %s", d.Workers, d.RosterPath), colorize),
			renderStatusLine("Operations", statusInfo, summarizeOperations(d.Operations, d.Retries), colorize),
		)
		if d.StartedAt != "" {
			lines = append(lines, renderStatusLine("Started", statusInfo, d.StartedAt, colorize))
		}
	}
	if len(report.Preflight) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Checks", colorize)...)
		for _, r := range report.Preflight {
			kind := statusOK
			if !r.Passed {
				kind = statusError
				if r.Optional {
					kind = statusWarn
				}
			}
			lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func summarizeOperations(counts []api.OperationCount, retries int64) string {
	var ok, failed int64
	for _, c := range counts {
		// An empty queue on dispatch is an answer, not a failure.
		if c.Outcome == "ok" || c.Outcome == string(queue.KindEmptyQueue) {
			ok += c.Count
		} else {
			failed += c.Count
		}
	}
	return fmt.Sprintf("%d completed, %d rejected, %d retries", ok, failed, retries)
}
