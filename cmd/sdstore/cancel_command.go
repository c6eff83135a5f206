package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sdstore/internal/ipc"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || jobID <= 0 {
				return fmt.Errorf("job id %q is not a positive integer", args[0])
			}
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(jobID)
				if err != nil {
					return err
				}
				switch resp.Result {
				case ipc.CancelResultPending:
					fmt.Fprintf(stdout, "task #%d cancelled while pending\n", jobID)
				case ipc.CancelResultSignalled:
					fmt.Fprintf(stdout, "task #%d signalled; its filters are being terminated\n", jobID)
				default:
					fmt.Fprintf(stdout, "task #%d is not cancellable\n", jobID)
				}
				return nil
			})
		},
	}
}
