package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sdstore/internal/ipc"
)

func newShutdownCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to drain running jobs and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Shutdown()
				if err != nil {
					return err
				}
				if resp.Stopping {
					fmt.Fprintln(stdout, "Daemon is shutting down; pending jobs cancelled, running jobs draining")
				}
				return nil
			})
		},
	}
}
