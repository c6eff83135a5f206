package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var settingsFlag string

	ctx := newCommandContext(&socketFlag, &settingsFlag)

	rootCmd := &cobra.Command{
		Use:           "sdstore",
		Short:         "Submit and inspect sdstored file transformation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the sdstored control socket")
	rootCmd.PersistentFlags().StringVar(&settingsFlag, "settings", "", "Settings file path")

	rootCmd.AddCommand(newProcFileCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newShutdownCommand(ctx))

	return rootCmd
}
