package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"sdstore/internal/daemonrun"
)

func main() {
	opts, budgetPath, filterDir, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: sdstored [flags] <config-path> <filter-dir>")
		os.Exit(2)
	}

	if err := daemonrun.Run(context.Background(), budgetPath, filterDir, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (daemonrun.Options, string, string, error) {
	fs := flag.NewFlagSet("sdstored", flag.ContinueOnError)
	var opts daemonrun.Options
	fs.StringVar(&opts.SettingsPath, "settings", "", "Path to the sdstored settings file")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")
	fs.StringVar(&opts.LogFormat, "log-format", "", "Override the configured log format (console or json)")
	if err := fs.Parse(args); err != nil {
		return daemonrun.Options{}, "", "", err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return daemonrun.Options{}, "", "", fmt.Errorf("expected 2 arguments, got %d", len(rest))
	}
	return opts, rest[0], rest[1], nil
}
