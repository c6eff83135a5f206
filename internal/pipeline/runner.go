package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"sdstore/internal/catalog"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
)

// Result is the terminal outcome of one pipeline run.
type Result struct {
	Outcome  jobs.State
	Err      error
	BytesIn  int64
	BytesOut int64
}

// Runner spawns and reaps filter process chains.
type Runner struct {
	cat    *catalog.Catalog
	logger *slog.Logger
}

// NewRunner constructs a runner against the filter catalog.
func NewRunner(cat *catalog.Catalog, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{cat: cat, logger: logger.With(logging.String("component", "pipeline"))}
}

// Run executes the job's filter chain to completion. The caller owns the
// job's slot reservation; Run only reports the outcome. Every spawned child
// is awaited on every path.
func (r *Runner) Run(ctx context.Context, job *jobs.Record) Result {
	input, err := os.Open(job.InputPath)
	if err != nil {
		return failure(fmt.Errorf("open input %s: %w", job.InputPath, err))
	}
	defer input.Close()

	output, err := os.OpenFile(job.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return failure(fmt.Errorf("create output %s: %w", job.OutputPath, err))
	}
	defer output.Close()

	cmds, parentEnds, err := r.buildChain(job, input, output)
	if err != nil {
		closeAll(parentEnds)
		return failure(err)
	}

	started, startErr := startChain(cmds)
	// Parent copies of every inter-child pipe end must go away once the
	// children hold theirs, or end-of-file never reaches the tail.
	closeAll(parentEnds)

	if startErr != nil {
		reapStarted(started)
		return failure(startErr)
	}

	pgid := cmds[0].Process.Pid
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pgid, unix.SIGTERM)
		case <-watchDone:
		}
	}()

	waitErr := waitChain(job, cmds)
	close(watchDone)

	if ctx.Err() != nil {
		r.logger.Info("pipeline cancelled",
			logging.Int64("job_id", job.ID),
			logging.Int("children", len(cmds)))
		return Result{Outcome: jobs.StateCancelled, Err: ctx.Err()}
	}
	if waitErr != nil {
		return failure(waitErr)
	}

	bytesIn, bytesOut := fileSizes(job.InputPath, job.OutputPath)
	r.logger.Info("pipeline completed",
		logging.Int64("job_id", job.ID),
		logging.Int64("bytes_in", bytesIn),
		logging.Int64("bytes_out", bytesOut))
	return Result{Outcome: jobs.StateCompleted, BytesIn: bytesIn, BytesOut: bytesOut}
}

// buildChain wires up the commands without starting them. The returned
// parentEnds are the pipe files the parent must close after spawning.
func (r *Runner) buildChain(job *jobs.Record, input, output *os.File) ([]*exec.Cmd, []*os.File, error) {
	cmds := make([]*exec.Cmd, 0, len(job.Pipeline))
	var parentEnds []*os.File

	var prevRead *os.File = input
	for i, kind := range job.Pipeline {
		exe := r.cat.ExecutablePath(kind)
		if exe == "" {
			return nil, parentEnds, fmt.Errorf("no executable for filter %s", kind)
		}
		cmd := exec.Command(exe)
		cmd.Stdin = prevRead
		cmd.Stderr = os.Stderr

		if i == len(job.Pipeline)-1 {
			cmd.Stdout = output
		} else {
			pr, pw, pipeErr := os.Pipe()
			if pipeErr != nil {
				return nil, parentEnds, fmt.Errorf("create pipe after filter %s: %w", kind, pipeErr)
			}
			cmd.Stdout = pw
			parentEnds = append(parentEnds, pr, pw)
			prevRead = pr
		}
		cmds = append(cmds, cmd)
	}
	return cmds, parentEnds, nil
}

// startChain spawns every child before any is awaited. All children share the
// head child's process group so cancellation is a single signal.
func startChain(cmds []*exec.Cmd) ([]*exec.Cmd, error) {
	var started []*exec.Cmd
	for i, cmd := range cmds {
		if i == 0 {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		} else {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: cmds[0].Process.Pid}
		}
		if err := cmd.Start(); err != nil {
			return started, fmt.Errorf("spawn filter %d (%s): %w", i, cmd.Path, err)
		}
		started = append(started, cmd)
	}
	return started, nil
}

func waitChain(job *jobs.Record, cmds []*exec.Cmd) error {
	var firstErr error
	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filter %d (%s): %w", i, job.Pipeline[i], err)
		}
	}
	return firstErr
}

// reapStarted kills and awaits children spawned before a mid-chain failure.
func reapStarted(started []*exec.Cmd) {
	for _, cmd := range started {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	for _, cmd := range started {
		_ = cmd.Wait()
	}
}

func closeAll(files []*os.File) {
	for _, file := range files {
		if file != nil {
			_ = file.Close()
		}
	}
}

func fileSizes(inputPath, outputPath string) (int64, int64) {
	var bytesIn, bytesOut int64
	if info, err := os.Stat(inputPath); err == nil {
		bytesIn = info.Size()
	}
	if info, err := os.Stat(outputPath); err == nil {
		bytesOut = info.Size()
	}
	return bytesIn, bytesOut
}

func failure(err error) Result {
	return Result{Outcome: jobs.StateFailed, Err: err}
}
