package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"sdstore/internal/config"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
	"sdstore/internal/scheduler"
)

// Daemon coordinates the scheduler and its stores behind the IPC surface.
type Daemon struct {
	cfg    *config.Config
	store  *jobs.Store
	sched  *scheduler.Scheduler
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	running      atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, sched *scheduler.Scheduler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || sched == nil {
		return nil, errors.New("daemon requires config, store, and scheduler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		store:    store,
		sched:    sched,
		logger:   logger,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		done:     make(chan struct{}),
	}, nil
}

// Start acquires the single-instance lock and launches the scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sdstored instance is already running")
	}

	if err := d.sched.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("sdstored started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts the scheduler abruptly and releases the lock. Prefer Shutdown
// for an orderly exit.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.sched.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("sdstored stopped")
}

// Shutdown refuses new submissions, cancels pending jobs, drains running
// jobs, and marks the daemon done.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var err error
	d.shutdownOnce.Do(func() {
		d.logger.Info("sdstored shutting down")
		err = d.sched.Shutdown(ctx)
		if d.running.Load() {
			if unlockErr := d.lock.Unlock(); unlockErr != nil {
				d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
			}
			d.running.Store(false)
		}
		close(d.done)
	})
	return err
}

// Done is closed once a shutdown has completed.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	if d.running.Load() {
		d.Stop()
	}
	return d.store.Close()
}

// Submit forwards a validated submission to the scheduler.
func (d *Daemon) Submit(ctx context.Context, req scheduler.SubmitRequest) (*jobs.Record, error) {
	return d.sched.Submit(ctx, req)
}

// Await blocks until the job reaches a terminal state.
func (d *Daemon) Await(ctx context.Context, id int64) (scheduler.TerminalStatus, error) {
	return d.sched.Await(ctx, id)
}

// Cancel cancels a pending or running job.
func (d *Daemon) Cancel(ctx context.Context, id int64) (scheduler.CancelResult, error) {
	return d.sched.Cancel(ctx, id)
}

// ReleaseClient cancels every job owned by a disconnected client connection.
func (d *Daemon) ReleaseClient(ctx context.Context, owner string) {
	d.sched.CancelOwned(ctx, owner)
}

// Status returns a snapshot of active jobs and ledger usage.
func (d *Daemon) Status() scheduler.Snapshot {
	return d.sched.Status()
}
