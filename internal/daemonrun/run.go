// Package daemonrun boots the sdstored runtime: logging, stores, scheduler,
// IPC server, pid file, and signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"sdstore/internal/budget"
	"sdstore/internal/catalog"
	"sdstore/internal/config"
	"sdstore/internal/daemon"
	"sdstore/internal/ipc"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
	"sdstore/internal/pipeline"
	"sdstore/internal/scheduler"
)

// Options configures daemon process runtime behavior.
type Options struct {
	SettingsPath string
	LogLevel     string
	LogFormat    string
}

// Run starts the sdstored runtime loop and blocks until a signal or an IPC
// shutdown completes.
func Run(cmdCtx context.Context, budgetPath, filterDir string, opts Options) error {
	cfg, err := config.Load(opts.SettingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("sdstored-%s.log", runID))

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	format := cfg.Logging.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update sdstored.log link: %v\n", err)
	}

	cat, err := catalog.Load(budgetPath, filterDir)
	if err != nil {
		logger.Error("load filter catalog", logging.Error(err))
		return err
	}
	logger.Info("filter catalog loaded",
		logging.String("budgets", budgetPath),
		logging.String("filter_dir", filterDir))

	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	// Active jobs do not survive a daemon death; fail any leftovers so the
	// history says what happened to them.
	if swept, err := store.FailActive(signalCtx, jobs.RestartFailureReason); err != nil {
		logger.Warn("sweep leftover active jobs", logging.Error(err))
	} else if swept > 0 {
		logger.Info("failed leftover active jobs", logging.Int64("count", swept))
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ledger := budget.NewLedger(cat)
	runner := pipeline.NewRunner(cat, logger)
	sched := scheduler.New(cat, ledger, store, runner, logger,
		scheduler.WithDrainTimeout(time.Duration(cfg.Scheduler.DrainTimeout)*time.Second))

	d, err := daemon.New(cfg, store, sched, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, shutting down")
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown failed", logging.Error(err))
		}
	case <-d.Done():
	}

	logger.Info("sdstored exiting")
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ensureCurrentLogPointer keeps <log-dir>/sdstored.log pointing at the
// current run's log file.
func ensureCurrentLogPointer(logDir, logPath string) error {
	pointer := filepath.Join(logDir, "sdstored.log")
	if err := os.Remove(pointer); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(logPath, pointer)
}
