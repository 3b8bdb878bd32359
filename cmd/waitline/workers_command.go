package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"waitline/internal/queueaccess"
)

var workersSpec = tableSpec{
	headers: []string{"ID", "Badge", "Name", "Eligible"},
	aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
}

func newWorkersCommand(ctx *commandContext) *cobra.Command {
	workersCmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect the worker roster",
	}
	workersCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workers known to the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				list, err := access.Workers(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				if len(list.Workers) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Roster is empty")
					return nil
				}
				rows := make([][]string, 0, len(list.Workers))
				for _, w := range list.Workers {
					rows = append(rows, []string{strconv.FormatInt(w.ID, 10), w.Badge, w.DisplayName, yesNo(w.Eligible)})
				}
				spec := workersSpec
				spec.colorize = shouldColorize(cmd.OutOrStdout())
				fmt.Fprint(cmd.OutOrStdout(), renderTable(spec, rows))
				return nil
			})
		},
	})
	return workersCmd
}
