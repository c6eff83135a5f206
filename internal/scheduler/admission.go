package scheduler

import (
	"context"
	"sort"

	"sdstore/internal/catalog"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
)

// admitPass scans the pending queue in (priority desc, job id asc) order and
// promotes every job whose whole demand fits the remaining budget, subject to
// the blocked-kind head-of-line rule.
func (s *Scheduler) admitPass() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	sort.SliceStable(s.pending, func(i, j int) bool {
		a, b := s.pending[i], s.pending[j]
		if a.record.Priority != b.record.Priority {
			return a.record.Priority > b.record.Priority
		}
		return a.record.ID < b.record.ID
	})

	blocked := make(map[catalog.Kind]struct{})
	remaining := s.pending[:0]
	for _, p := range s.pending {
		if p.demand.Intersects(blocked) {
			remaining = append(remaining, p)
			continue
		}
		ok, short := s.ledger.TryReserve(p.demand)
		if !ok {
			for _, kind := range short {
				blocked[kind] = struct{}{}
			}
			remaining = append(remaining, p)
			continue
		}
		s.admitLocked(p)
	}
	s.pending = remaining
}

// admitLocked transitions an admitted job to running and dispatches its
// runner goroutine. Caller holds s.mu; the reservation is already held.
func (s *Scheduler) admitLocked(p *pendingJob) {
	id := p.record.ID
	if err := s.store.Transition(context.Background(), id, jobs.StatePending, jobs.StateRunning, jobs.TransitionOptions{}); err != nil {
		// The record refused to run; the reservation must not leak.
		s.ledger.Release(p.demand)
		s.logger.Error("admit transition failed",
			logging.Int64("job_id", id),
			logging.Error(err))
		watcher := s.watchers[id]
		delete(s.watchers, id)
		if watcher != nil {
			close(watcher)
		}
		return
	}

	jobCtx, jobCancel := context.WithCancel(s.ctx)
	run := &runningJob{record: p.record, demand: p.demand, owner: p.owner, cancel: jobCancel}
	s.running[id] = run

	s.logger.Info("job admitted",
		logging.Int64("job_id", id),
		logging.Int("priority", p.record.Priority))

	s.runWG.Add(1)
	go s.runJob(jobCtx, run)
}

// runJob drives one admitted job to a terminal state. The release obligation
// taken on at admission is discharged on every path out, exactly once, before
// the finish event and before any client observes the terminal state.
func (s *Scheduler) runJob(ctx context.Context, run *runningJob) {
	defer s.runWG.Done()
	id := run.record.ID

	result := s.runner.Run(ctx, run.record)
	run.cancel()

	outcome := result.Outcome
	if !outcome.IsTerminal() {
		outcome = jobs.StateFailed
	}

	errorMessage := ""
	if result.Err != nil {
		errorMessage = result.Err.Error()
	}
	if outcome == jobs.StateCancelled && errorMessage == "" {
		errorMessage = "cancelled by client"
	}

	s.mu.Lock()
	s.ledger.Release(run.demand)
	delete(s.running, id)
	s.mu.Unlock()

	if err := s.store.Transition(context.Background(), id, jobs.StateRunning, outcome, jobs.TransitionOptions{
		ErrorMessage: errorMessage,
		BytesIn:      result.BytesIn,
		BytesOut:     result.BytesOut,
	}); err != nil {
		s.logger.Error("terminal transition failed",
			logging.Int64("job_id", id),
			logging.String("outcome", string(outcome)),
			logging.Error(err))
	}

	s.logger.Info("job finished",
		logging.Int64("job_id", id),
		logging.String("outcome", string(outcome)))

	// The watcher is dropped only once the terminal state is persisted, so an
	// Await that no longer finds it reads a terminal record.
	s.mu.Lock()
	watcher := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	// Finish event first: the admission pass is signalled before the client
	// hears about the terminal state.
	s.trigger()
	if watcher != nil {
		close(watcher)
	}
}
