package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// IPC contains the control socket configuration.
type IPC struct {
	Socket string `toml:"socket"`
}

// Scheduler contains admission and shutdown tuning.
type Scheduler struct {
	// DrainTimeout is how many seconds a shutdown waits for running jobs
	// before cancelling them. Zero waits indefinitely.
	DrainTimeout int `toml:"drain_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates sdstored's settings.
type Config struct {
	Paths     Paths     `toml:"paths"`
	IPC       IPC       `toml:"ipc"`
	Scheduler Scheduler `toml:"scheduler"`
	Logging   Logging   `toml:"logging"`
}

// Load reads the settings file at path, or the default location when path is
// empty. A missing file at the default location yields the defaults; a
// missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultSettingsPath()
		if err != nil {
			return nil, err
		}
		resolved = defaultPath
	} else {
		expanded, err := ExpandPath(resolved)
		if err != nil {
			return nil, err
		}
		resolved = expanded
	}

	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if strings.TrimSpace(path) != "" {
			return nil, fmt.Errorf("settings file %s not found", resolved)
		}
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", resolved, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultSettingsPath returns the default settings file location.
func DefaultSettingsPath() (string, error) {
	return ExpandPath("~/.config/sdstore/config.toml")
}

// SampleConfig returns the embedded annotated sample settings file.
func SampleConfig() string {
	return sampleConfig
}

// SocketPath returns the control socket path, defaulting into the data dir.
func (c *Config) SocketPath() string {
	if strings.TrimSpace(c.IPC.Socket) != "" {
		return c.IPC.Socket
	}
	return filepath.Join(c.Paths.DataDir, "sdstored.sock")
}

// PIDPath returns the daemon pid file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "sdstored.pid")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "sdstored.lock")
}

// DatabasePath returns the job database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// EnsureDirectories creates the configured directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if strings.TrimSpace(c.IPC.Socket) != "" {
		if c.IPC.Socket, err = ExpandPath(c.IPC.Socket); err != nil {
			return err
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ against the user home directory.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return trimmed, nil
}
