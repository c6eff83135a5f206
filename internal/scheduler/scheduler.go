package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sdstore/internal/budget"
	"sdstore/internal/catalog"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
	"sdstore/internal/pipeline"
)

// Runner executes an admitted job to a terminal outcome. Cancelling the
// context cancels the job.
type Runner interface {
	Run(ctx context.Context, job *jobs.Record) pipeline.Result
}

// SubmitRequest carries a validated-at-the-edge submission.
type SubmitRequest struct {
	Priority   int
	InputPath  string
	OutputPath string
	Pipeline   []string
	// Owner identifies the client connection so its jobs can be cancelled
	// when it disconnects.
	Owner string
}

// TerminalStatus is the outcome delivered to an awaiting client.
type TerminalStatus struct {
	State        jobs.State
	ErrorMessage string
	BytesIn      int64
	BytesOut     int64
}

// CancelResult reports what a cancel request achieved.
type CancelResult string

const (
	CancelledPending CancelResult = "cancelled_pending"
	CancelSignalled  CancelResult = "signalled"
	NotCancellable   CancelResult = "not_cancellable"
)

// JobStatus is one row of a status snapshot.
type JobStatus struct {
	ID         int64
	Priority   int
	InputPath  string
	OutputPath string
	Pipeline   []string
	State      jobs.State
}

// Snapshot is a consistent view of the scheduler for status queries.
type Snapshot struct {
	Jobs    []JobStatus
	Filters []budget.Usage
}

type pendingJob struct {
	record *jobs.Record
	demand budget.Demand
	owner  string
}

type runningJob struct {
	record *jobs.Record
	demand budget.Demand
	owner  string
	cancel context.CancelFunc
}

// Scheduler owns the pending queue and the admission loop.
type Scheduler struct {
	cat    *catalog.Catalog
	ledger *budget.Ledger
	store  *jobs.Store
	runner Runner
	logger *slog.Logger

	drainTimeout time.Duration

	mu           sync.Mutex
	pending      []*pendingJob
	running      map[int64]*runningJob
	watchers     map[int64]chan struct{}
	shuttingDown bool

	kick   chan struct{}
	loopWG sync.WaitGroup
	runWG  sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures optional scheduler behavior.
type Option func(*Scheduler)

// WithDrainTimeout bounds how long Shutdown waits for running jobs before
// cancelling them. Zero waits indefinitely.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.drainTimeout = d }
}

// New constructs a scheduler.
func New(cat *catalog.Catalog, ledger *budget.Ledger, store *jobs.Store, runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		cat:      cat,
		ledger:   ledger,
		store:    store,
		runner:   runner,
		logger:   logger.With(logging.String("component", "scheduler")),
		running:  make(map[int64]*runningJob),
		watchers: make(map[int64]chan struct{}),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the admission loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return errors.New("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loopWG.Add(1)
	go s.loop(s.ctx)
	return nil
}

// Stop halts the admission loop and cancels running jobs without draining.
// Prefer Shutdown for an orderly exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.loopWG.Wait()
	s.runWG.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.admitPass()
		}
	}
}

func (s *Scheduler) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Submit validates a submission, records it as pending, and triggers an
// admission pass. Rejections are synchronous and leave no trace in the queue.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*jobs.Record, error) {
	if req.Priority < 0 {
		return nil, ErrInvalidPriority
	}
	if len(req.Pipeline) == 0 {
		return nil, ErrEmptyPipeline
	}
	kinds, badName, ok := catalog.ParsePipeline(req.Pipeline)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, badName)
	}
	demand := budget.DemandOf(kinds)
	if over := demand.Infeasible(s.cat); len(over) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInfeasibleDemand, over)
	}
	if samePath(req.InputPath, req.OutputPath) {
		return nil, ErrSamePaths
	}
	if err := checkReadable(req.InputPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.mu.Unlock()

	record, err := s.store.Create(ctx, jobs.Submission{
		Priority:   req.Priority,
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Pipeline:   kinds,
	})
	if err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	s.mu.Lock()
	if s.shuttingDown {
		// Shutdown began between the check and the insert; the record is
		// cancelled rather than queued.
		s.mu.Unlock()
		_ = s.store.Transition(ctx, record.ID, jobs.StatePending, jobs.StateCancelled,
			jobs.TransitionOptions{ErrorMessage: jobs.ShutdownCancelReason})
		return nil, ErrShuttingDown
	}
	s.pending = append(s.pending, &pendingJob{record: record, demand: demand, owner: req.Owner})
	s.watchers[record.ID] = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("job submitted",
		logging.Int64("job_id", record.ID),
		logging.Int("priority", record.Priority),
		logging.String("pipeline", strings.Join(req.Pipeline, " ")))

	s.trigger()
	return record, nil
}

// Await blocks until the job reaches a terminal state and returns it.
func (s *Scheduler) Await(ctx context.Context, id int64) (TerminalStatus, error) {
	s.mu.Lock()
	watcher, active := s.watchers[id]
	s.mu.Unlock()

	if active {
		select {
		case <-ctx.Done():
			return TerminalStatus{}, ctx.Err()
		case <-watcher:
		}
	}

	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return TerminalStatus{}, err
	}
	if record == nil {
		return TerminalStatus{}, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	if !record.State.IsTerminal() {
		return TerminalStatus{}, fmt.Errorf("job %d is %s, not terminal", id, record.State)
	}
	return TerminalStatus{
		State:        record.State,
		ErrorMessage: record.ErrorMessage,
		BytesIn:      record.BytesIn,
		BytesOut:     record.BytesOut,
	}, nil
}

// Cancel cancels a job. Pending jobs are dequeued; running jobs have their
// children signalled and the normal reaping path finishes the cancellation.
func (s *Scheduler) Cancel(ctx context.Context, id int64) (CancelResult, error) {
	s.mu.Lock()
	for i, p := range s.pending {
		if p.record.ID != id {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.mu.Unlock()

		err := s.store.Transition(ctx, id, jobs.StatePending, jobs.StateCancelled,
			jobs.TransitionOptions{ErrorMessage: "cancelled by client"})
		s.mu.Lock()
		watcher := s.watchers[id]
		delete(s.watchers, id)
		s.mu.Unlock()
		if watcher != nil {
			close(watcher)
		}
		s.logger.Info("pending job cancelled", logging.Int64("job_id", id))
		s.trigger()
		return CancelledPending, err
	}
	if run, ok := s.running[id]; ok {
		cancel := run.cancel
		s.mu.Unlock()
		cancel()
		s.logger.Info("running job signalled for cancel", logging.Int64("job_id", id))
		return CancelSignalled, nil
	}
	s.mu.Unlock()
	return NotCancellable, nil
}

// CancelOwned cancels every non-terminal job submitted over the given client
// connection. Used when a client disconnects.
func (s *Scheduler) CancelOwned(ctx context.Context, owner string) {
	if owner == "" {
		return
	}
	var ids []int64
	s.mu.Lock()
	for _, p := range s.pending {
		if p.owner == owner {
			ids = append(ids, p.record.ID)
		}
	}
	for id, run := range s.running {
		if run.owner == owner {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		if _, err := s.Cancel(ctx, id); err != nil {
			s.logger.Warn("implicit cancel failed",
				logging.Int64("job_id", id),
				logging.Error(err))
		}
	}
}

// Shutdown refuses new submissions, cancels all pending jobs, and waits for
// running jobs to drain. Running jobs are cancelled if the drain timeout
// elapses first.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	stranded := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range stranded {
		err := s.store.Transition(ctx, p.record.ID, jobs.StatePending, jobs.StateCancelled,
			jobs.TransitionOptions{ErrorMessage: jobs.ShutdownCancelReason})
		if err != nil {
			s.logger.Warn("cancel pending on shutdown failed",
				logging.Int64("job_id", p.record.ID),
				logging.Error(err))
		}
		s.mu.Lock()
		watcher := s.watchers[p.record.ID]
		delete(s.watchers, p.record.ID)
		s.mu.Unlock()
		if watcher != nil {
			close(watcher)
		}
	}

	s.logger.Info("draining running jobs", logging.Int("count", s.runningCount()))
	if !s.waitDrain() {
		s.logger.Warn("drain timeout elapsed, cancelling running jobs",
			logging.Duration("timeout", s.drainTimeout))
		s.mu.Lock()
		for _, run := range s.running {
			run.cancel()
		}
		s.mu.Unlock()
		s.runWG.Wait()
	}

	s.mu.Lock()
	cancel := s.cancel
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.loopWG.Wait()
	}
	return nil
}

func (s *Scheduler) waitDrain() bool {
	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	if s.drainTimeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(s.drainTimeout):
		return false
	}
}

func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// ShuttingDown reports whether a shutdown has begun.
func (s *Scheduler) ShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// Status returns a consistent snapshot of active jobs and ledger usage.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	statuses := make([]JobStatus, 0, len(s.pending)+len(s.running))
	for _, p := range s.pending {
		statuses = append(statuses, jobStatus(p.record, jobs.StatePending))
	}
	for _, run := range s.running {
		statuses = append(statuses, jobStatus(run.record, jobs.StateRunning))
	}
	filters := s.ledger.Snapshot()
	s.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return Snapshot{Jobs: statuses, Filters: filters}
}

func jobStatus(record *jobs.Record, state jobs.State) JobStatus {
	return JobStatus{
		ID:         record.ID,
		Priority:   record.Priority,
		InputPath:  record.InputPath,
		OutputPath: record.OutputPath,
		Pipeline:   record.PipelineNames(),
		State:      state,
	}
}

func samePath(input, output string) bool {
	a, errA := filepath.Abs(filepath.Clean(input))
	b, errB := filepath.Abs(filepath.Clean(output))
	if errA != nil || errB != nil {
		return filepath.Clean(input) == filepath.Clean(output)
	}
	return a == b
}

func checkReadable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	return file.Close()
}
