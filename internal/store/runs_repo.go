package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"shopagent/internal/core"
)

var (
	ErrRunNotFound = errors.New("run not found")
	// ErrRunCompleted is returned when completing a run that already has an end time.
	ErrRunCompleted = errors.New("run already completed")
)

const runColumns = `id, task_id, worker_id, start_at, end_at, result, error`

// CreateRun records the start of an execution attempt for taskID.
func (s *Store) CreateRun(ctx context.Context, taskID, workerID string) (string, error) {
	id := core.NewID()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, worker_id, start_at, end_at, result, error)
		VALUES (?, ?, ?, ?, NULL, NULL, NULL)
	`, id, taskID, workerID, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// CompleteRun stamps the end time, result and optional error on a run. A run
// is immutable once completed.
func (s *Store) CompleteRun(ctx context.Context, runID string, result json.RawMessage, errMsg *string) error {
	var encoded any
	if len(result) > 0 {
		encoded = string(result)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET end_at = ?, result = ?, error = ?
		WHERE id = ? AND end_at IS NULL
	`, s.timestamp(), encoded, nullableString(errMsg), runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
		return ErrRunCompleted
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns the runs of a task, newest first.
func (s *Store) ListRuns(ctx context.Context, taskID string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE task_id = ?
		ORDER BY start_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// RecentRuns returns the latest runs across all tasks.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY start_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]*core.Run, error) {
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		id       string
		taskID   string
		workerID string
		startAt  string
		endAt    sql.NullString
		result   sql.NullString
		errMsg   sql.NullString
	)
	if err := scanner.Scan(&id, &taskID, &workerID, &startAt, &endAt, &result, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run := &core.Run{
		ID:       id,
		TaskID:   taskID,
		WorkerID: workerID,
		StartAt:  parseTime(startAt),
	}
	if endAt.Valid {
		t := parseTime(endAt.String)
		run.EndAt = &t
	}
	if result.Valid {
		run.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return run, nil
}
