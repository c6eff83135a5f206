package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"sdstore/internal/ipc"
	"sdstore/internal/jobs"
)

func newProcFileCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proc-file <priority> <input-file> <output-file> <filter> [<filter>...]",
		Short: "Submit a file transformation job and wait for its outcome",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("priority %q is not an integer", args[0])
			}
			if priority < 0 {
				return fmt.Errorf("priority must not be negative, got %d", priority)
			}

			// The daemon resolves paths against its own working directory,
			// so ship them absolute.
			inputPath, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve input path: %w", err)
			}
			outputPath, err := filepath.Abs(args[2])
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}

			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				submit, err := client.Submit(ipc.SubmitRequest{
					Priority:   priority,
					InputPath:  inputPath,
					OutputPath: outputPath,
					Pipeline:   args[3:],
				})
				if err != nil {
					return err
				}
				if !submit.Accepted {
					fmt.Fprintf(stdout, "recusado: %s\n", submit.RejectDetail)
					return fmt.Errorf("submission rejected (%s)", submit.RejectReason)
				}

				fmt.Fprintf(stdout, "task #%d: pending\n", submit.JobID)

				terminal, err := client.Await(submit.JobID)
				if err != nil {
					return err
				}
				switch jobs.State(terminal.State) {
				case jobs.StateCompleted:
					fmt.Fprintf(stdout, "task #%d: concluído (bytes-input: %d, bytes-output: %d)\n",
						submit.JobID, terminal.BytesIn, terminal.BytesOut)
					return nil
				case jobs.StateCancelled:
					fmt.Fprintf(stdout, "task #%d: cancelled (output %s may be incomplete)\n", submit.JobID, outputPath)
					return fmt.Errorf("task %d was cancelled", submit.JobID)
				default:
					fmt.Fprintf(stdout, "task #%d: failed: %s\n", submit.JobID, terminal.ErrorMessage)
					return fmt.Errorf("task %d failed", submit.JobID)
				}
			})
		},
	}
	return cmd
}
