package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"waitline/internal/api"
	"waitline/internal/queueaccess"
)

var errDaemonRequired = errors.New("the memory store lives inside the daemon; start it with `waitline serve` or `waitline start`")

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the waiting line",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueArriveCommand(ctx))
	queueCmd.AddCommand(newQueueNextCommand(ctx))
	queueCmd.AddCommand(newQueueReturnCommand(ctx))
	queueCmd.AddCommand(newQueueMoveCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueWatchCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show waiting and in-service entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				snap, err := access.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, snap)
				}
				warnIfLocal(cmd, access)
				fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(snap, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}
}

func newQueueArriveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "arrive <worker-id>",
		Short: "Add a worker to the tail of the line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workerID, err := parseID("worker id", args[0])
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				entry, err := access.Arrive(cmd.Context(), workerID)
				if err != nil {
					return err
				}
				return printEntry(cmd, ctx, access, entry, fmt.Sprintf("%s joined the line at rank %d (entry %d)", entry.DisplayName, entry.Rank, entry.ID))
			})
		},
	}
}

func newQueueNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "next",
		Aliases: []string{"dispatch"},
		Short:   "Dispatch the head of the line",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				entry, err := access.Dispatch(cmd.Context())
				if err != nil {
					return err
				}
				return printEntry(cmd, ctx, access, entry, fmt.Sprintf("Dispatched %s (entry %d)", entry.DisplayName, entry.ID))
			})
		},
	}
}

func newQueueReturnCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "return <entry-id>",
		Short: "Send an in-service entry back to the tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := parseID("entry id", args[0])
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				entry, err := access.Return(cmd.Context(), entryID)
				if err != nil {
					return err
				}
				return printEntry(cmd, ctx, access, entry, fmt.Sprintf("%s is back in line at rank %d", entry.DisplayName, entry.Rank))
			})
		},
	}
}

func newQueueMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <entry-id> <rank>",
		Short: "Move a waiting entry to a new rank",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := parseID("entry id", args[0])
			if err != nil {
				return err
			}
			rank, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid rank %q", args[1])
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				result, err := access.Move(cmd.Context(), entryID, rank)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				warnIfLocal(cmd, access)
				if !result.Moved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already at rank %d\n", result.Entry.DisplayName, result.Entry.Rank)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to rank %d\n", result.Entry.DisplayName, result.Entry.Rank)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <entry-id>...",
		Aliases: []string{"rm"},
		Short:   "Remove entries from the line or from service",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID("entry id", arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				results := make([]api.RemoveResult, 0, len(ids))
				for _, id := range ids {
					result, err := access.Remove(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("remove entry %d: %w", id, err)
					}
					results = append(results, result)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, results)
				}
				warnIfLocal(cmd, access)
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed entry %d (%s)\n", r.ID, r.Entry.DisplayName)
				}
				return nil
			})
		},
	}
}

func newQueueWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the line as it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialClient(cmd.Context())
			if err != nil {
				return fmt.Errorf("connect to daemon: %w", err)
			}
			defer client.Close()

			colorize := shouldColorize(cmd.OutOrStdout())
			return client.Watch(cmd.Context(), func(snap api.Snapshot) error {
				if ctx.jsonOutput() {
					return writeJSON(cmd, snap)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderWatchLine(snap, colorize))
				return nil
			})
		},
	}
}

func printEntry(cmd *cobra.Command, ctx *commandContext, access queueaccess.Access, entry api.Entry, message string) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, entry)
	}
	warnIfLocal(cmd, access)
	fmt.Fprintln(cmd.OutOrStdout(), message)
	return nil
}

func warnIfLocal(cmd *cobra.Command, access queueaccess.Access) {
	if access.Remote() {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "note: daemon not reachable; operating on the store directly (observers are not notified)")
}

func parseID(label, value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, value)
	}
	return id, nil
}
