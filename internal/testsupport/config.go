// Package testsupport provides shared fixtures for sdstore tests: temp-dir
// configs, stub filter binaries, and store constructors.
package testsupport

import (
	"path/filepath"
	"testing"

	"sdstore/internal/config"
)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.IPC.Socket = filepath.Join(base, "sdstored.sock")
	cfg.Scheduler.DrainTimeout = 5

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}
