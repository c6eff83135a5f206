package scheduler

import "errors"

// Submission rejections. Each maps to a distinguishable reject reason in the
// client reply.
var (
	ErrEmptyPipeline    = errors.New("pipeline is empty")
	ErrUnknownFilter    = errors.New("unknown filter")
	ErrInfeasibleDemand = errors.New("demand exceeds filter budget")
	ErrInvalidPriority  = errors.New("priority must not be negative")
	ErrInputUnreadable  = errors.New("input file is not readable")
	ErrSamePaths        = errors.New("input and output paths are identical")
	ErrShuttingDown     = errors.New("daemon is shutting down")
)

// ErrUnknownJob is returned for operations on job ids the scheduler has never
// seen.
var ErrUnknownJob = errors.New("unknown job")
