package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition indicates a state change outside the legal graph.
var ErrIllegalTransition = errors.New("illegal job state transition")

// ErrStaleState indicates the record changed state underneath the caller.
var ErrStaleState = errors.New("job state changed concurrently")

// TransitionOptions carries the optional fields persisted alongside a state
// change.
type TransitionOptions struct {
	ErrorMessage string
	BytesIn      int64
	BytesOut     int64
}

// Transition moves a job from one state to another, enforcing the legal
// transition graph. The update is conditional on the record still being in
// the from state, so a concurrent transition surfaces as ErrStaleState
// instead of silently overwriting.
func (s *Store) Transition(ctx context.Context, id int64, from, to State, opts TransitionOptions) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (job %d)", ErrIllegalTransition, from, to, id)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var admittedAt, finishedAt any
	if to == StateRunning {
		admittedAt = now
	}
	if to.IsTerminal() {
		finishedAt = now
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE job_records
         SET state = ?, error_message = ?, bytes_in = ?, bytes_out = ?,
             admitted_at = COALESCE(?, admitted_at),
             finished_at = COALESCE(?, finished_at),
             updated_at = ?
         WHERE id = ? AND state = ?`,
		to,
		nullableString(opts.ErrorMessage),
		opts.BytesIn,
		opts.BytesOut,
		admittedAt,
		finishedAt,
		now,
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("transition job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %d is no longer %s", ErrStaleState, id, from)
	}
	return nil
}
