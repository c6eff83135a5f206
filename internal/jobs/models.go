package jobs

import (
	"strings"
	"time"

	"sdstore/internal/catalog"
)

// State represents the lifecycle of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// RestartFailureReason is the error message recorded for jobs that were still
// active when a previous daemon run died.
const RestartFailureReason = "daemon restarted while the job was active"

// ShutdownCancelReason is recorded for pending jobs cancelled by shutdown.
const ShutdownCancelReason = "daemon shutting down"

var allStates = []State{
	StatePending,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// legalTransitions is the transition graph from the job state machine:
// Pending->Running|Cancelled, Running->Completed|Failed|Cancelled.
var legalTransitions = map[State]map[State]struct{}{
	StatePending: {
		StateRunning:   {},
		StateCancelled: {},
	},
	StateRunning: {
		StateCompleted: {},
		StateFailed:    {},
		StateCancelled: {},
	},
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a state is final.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	targets, ok := legalTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Record represents a job persisted in SQLite.
type Record struct {
	ID           int64
	Priority     int
	InputPath    string
	OutputPath   string
	Pipeline     []catalog.Kind
	State        State
	ErrorMessage string
	BytesIn      int64
	BytesOut     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AdmittedAt   *time.Time
	FinishedAt   *time.Time
}

// IsActive reports whether the job still occupies the scheduler: pending in
// the queue or running a pipeline.
func (r *Record) IsActive() bool {
	return !r.State.IsTerminal()
}

// PipelineNames returns the pipeline as plain strings, in order.
func (r *Record) PipelineNames() []string {
	names := make([]string, len(r.Pipeline))
	for i, kind := range r.Pipeline {
		names[i] = string(kind)
	}
	return names
}

func encodePipeline(pipeline []catalog.Kind) string {
	names := make([]string, len(pipeline))
	for i, kind := range pipeline {
		names[i] = string(kind)
	}
	return strings.Join(names, " ")
}

func decodePipeline(value string) []catalog.Kind {
	fields := strings.Fields(value)
	pipeline := make([]catalog.Kind, 0, len(fields))
	for _, field := range fields {
		if kind, ok := catalog.ParseKind(field); ok {
			pipeline = append(pipeline, kind)
		}
	}
	return pipeline
}
