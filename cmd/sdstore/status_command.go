package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"sdstore/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asTable bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active jobs and per-filter slot usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if asTable {
					renderStatusTables(cmd.OutOrStdout(), status)
					return nil
				}
				renderStatusLines(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asTable, "table", false, "Render the snapshot as tables")
	return cmd
}

// renderStatusLines prints the canonical status shape: one task line per
// active job, then one transf line per filter kind in catalogue order.
func renderStatusLines(w io.Writer, status *ipc.StatusResponse) {
	for _, job := range status.Jobs {
		fmt.Fprintf(w, "task #%d: proc-file %d %s %s %s\n",
			job.ID, job.Priority, job.InputPath, job.OutputPath,
			strings.Join(job.Pipeline, " "))
	}
	for _, usage := range status.Filters {
		fmt.Fprintf(w, "transf %s: %d/%d (running/max)\n",
			usage.Kind, usage.Running, usage.Max)
	}
}
