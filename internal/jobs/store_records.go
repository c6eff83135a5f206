package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sdstore/internal/catalog"
)

const recordColumns = `id, priority, input_path, output_path, pipeline, state,
    error_message, bytes_in, bytes_out, created_at, updated_at, admitted_at, finished_at`

// Submission carries the fields of a new job record.
type Submission struct {
	Priority   int
	InputPath  string
	OutputPath string
	Pipeline   []catalog.Kind
}

// Create inserts a new pending record and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, sub Submission) (*Record, error) {
	if len(sub.Pipeline) == 0 {
		return nil, errors.New("pipeline is empty")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO job_records (
            priority, input_path, output_path, pipeline, state, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.Priority,
		sub.InputPath,
		sub.OutputPath,
		encodePipeline(sub.Pipeline),
		StatePending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job record by identifier. Missing records return nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM job_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return record, nil
}

// ListActive returns all pending and running records ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]*Record, error) {
	return s.list(ctx,
		`SELECT `+recordColumns+` FROM job_records WHERE state IN (?, ?) ORDER BY id`,
		StatePending, StateRunning)
}

// List returns records filtered by state, or every record when no states are
// given, ordered by id.
func (s *Store) List(ctx context.Context, states ...State) ([]*Record, error) {
	if len(states) == 0 {
		return s.list(ctx, `SELECT `+recordColumns+` FROM job_records ORDER BY id`)
	}
	placeholders := make([]byte, 0, len(states)*3)
	args := make([]any, 0, len(states))
	for i, state := range states {
		if i > 0 {
			placeholders = append(placeholders, ',', ' ')
		}
		placeholders = append(placeholders, '?')
		args = append(args, state)
	}
	query := `SELECT ` + recordColumns + ` FROM job_records WHERE state IN (` + string(placeholders) + `) ORDER BY id`
	return s.list(ctx, query, args...)
}

// Remove deletes a record. Only meaningful after the terminal reply is sent.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM job_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

// FailActive marks every pending and running record failed with the given
// reason. Called once at startup: active jobs do not survive a daemon death.
func (s *Store) FailActive(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE job_records
         SET state = ?, error_message = ?, finished_at = ?, updated_at = ?
         WHERE state IN (?, ?)`,
		StateFailed, reason, now, now,
		StatePending, StateRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail active jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record     Record
		pipeline   string
		state      string
		errMsg     sql.NullString
		createdAt  string
		updatedAt  string
		admittedAt sql.NullString
		finishedAt sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&record.Priority,
		&record.InputPath,
		&record.OutputPath,
		&pipeline,
		&state,
		&errMsg,
		&record.BytesIn,
		&record.BytesOut,
		&createdAt,
		&updatedAt,
		&admittedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	record.Pipeline = decodePipeline(pipeline)
	if parsed, ok := ParseState(state); ok {
		record.State = parsed
	} else {
		return nil, fmt.Errorf("job %d has unknown state %q", record.ID, state)
	}
	record.ErrorMessage = errMsg.String
	record.CreatedAt = parseTimestamp(createdAt)
	record.UpdatedAt = parseTimestamp(updatedAt)
	if admittedAt.Valid {
		t := parseTimestamp(admittedAt.String)
		record.AdmittedAt = &t
	}
	if finishedAt.Valid {
		t := parseTimestamp(finishedAt.String)
		record.FinishedAt = &t
	}
	return &record, nil
}

func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
