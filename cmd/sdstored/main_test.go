package main

import "testing"

func TestParseArgs(t *testing.T) {
	opts, budgets, filters, err := parseArgs([]string{
		"--settings", "/etc/sdstore.toml",
		"--log-level", "debug",
		"/etc/sdstore/budgets.conf", "/usr/lib/sdstore/filters",
	})
	if err != nil {
		t.Fatalf("parseArgs failed: %v", err)
	}
	if opts.SettingsPath != "/etc/sdstore.toml" || opts.LogLevel != "debug" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if budgets != "/etc/sdstore/budgets.conf" || filters != "/usr/lib/sdstore/filters" {
		t.Fatalf("unexpected positional args %q, %q", budgets, filters)
	}
}

func TestParseArgsRequiresBothPositionals(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"budgets.conf"},
		{"budgets.conf", "filters", "extra"},
	} {
		if _, _, _, err := parseArgs(args); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}
