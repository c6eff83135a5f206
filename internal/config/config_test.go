package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sdstore/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Scheduler.DrainTimeout <= 0 {
		t.Fatalf("expected positive drain timeout, got %d", cfg.Scheduler.DrainTimeout)
	}
}

func TestLoadReadsSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[ipc]
socket = "` + filepath.Join(dir, "custom.sock") + `"

[scheduler]
drain_timeout = 7

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Paths.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Paths.DataDir)
	}
	if cfg.SocketPath() != filepath.Join(dir, "custom.sock") {
		t.Fatalf("unexpected socket %s", cfg.SocketPath())
	}
	if cfg.Scheduler.DrainTimeout != 7 {
		t.Fatalf("unexpected drain timeout %d", cfg.Scheduler.DrainTimeout)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging settings %+v", cfg.Logging)
	}
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing explicit settings file")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[logging]
format = "xml"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestSocketDefaultsIntoDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = "/var/lib/sdstore"
	if got := cfg.SocketPath(); got != "/var/lib/sdstore/sdstored.sock" {
		t.Fatalf("unexpected socket path %s", got)
	}
	if got := cfg.DatabasePath(); got != "/var/lib/sdstore/jobs.db" {
		t.Fatalf("unexpected database path %s", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	expanded, err := config.ExpandPath("~/x/y")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if expanded != filepath.Join(home, "x", "y") {
		t.Fatalf("unexpected expansion %s", expanded)
	}

	plain, err := config.ExpandPath("/opt/sdstore")
	if err != nil || plain != "/opt/sdstore" {
		t.Fatalf("unexpected passthrough %s, %v", plain, err)
	}
}

func TestSampleConfigMentionsEverySection(t *testing.T) {
	sample := config.SampleConfig()
	for _, section := range []string{"[paths]", "[ipc]", "[scheduler]", "[logging]"} {
		if !strings.Contains(sample, section) {
			t.Fatalf("sample config is missing %s", section)
		}
	}
}
