package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"shopagent/internal/core"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	// ErrNoTask is returned by NextTask and ClaimNextTask when nothing is queued.
	ErrNoTask = errors.New("no queued task")
)

// claimAttempts bounds how often ClaimNextTask re-selects after losing a race
// to another worker on the same database.
const claimAttempts = 5

const taskColumns = `id, tenant_id, action, payload, status, priority, dry_run, last_error, created_at, updated_at`

// nextQueued selects the highest priority queued task, FIFO within a priority.
const nextQueued = `
	SELECT ` + taskColumns + `
	FROM tasks
	WHERE status = ?
	ORDER BY priority DESC, created_at ASC, id ASC
	LIMIT 1
`

// CreateTask enqueues a new task and returns its id.
func (s *Store) CreateTask(ctx context.Context, in core.NewTask) (string, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return "", fmt.Errorf("insert task: tenant is required")
	}
	if strings.TrimSpace(in.Action) == "" {
		return "", fmt.Errorf("insert task: action is required")
	}
	payload := in.Payload
	if payload == nil {
		payload = core.Payload{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	id := core.NewID()
	now := s.timestamp()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, action, payload, status, priority, dry_run, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`, id, in.TenantID, in.Action, string(encoded), core.TaskStatusQueued, in.Priority, boolToInt(in.DryRun), now, now)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// NextTask returns the next eligible queued task without claiming it.
func (s *Store) NextTask(ctx context.Context) (*core.Task, error) {
	task, err := scanTask(s.DB.QueryRowContext(ctx, nextQueued, core.TaskStatusQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTask
		}
		return nil, err
	}
	return task, nil
}

// ClaimNextTask selects the next eligible task and moves it to running in a
// single transaction. The update is conditional on the row still being
// queued, so two workers sharing the database cannot both claim it.
func (s *Store) ClaimNextTask(ctx context.Context) (*core.Task, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		task, claimed, err := s.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if claimed {
			return task, nil
		}
		if task == nil {
			return nil, ErrNoTask
		}
	}
	return nil, ErrNoTask
}

func (s *Store) tryClaim(ctx context.Context) (*core.Task, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRowContext(ctx, nextQueued, core.TaskStatusQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	now := s.timestamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.TaskStatusRunning, now, task.ID, core.TaskStatusQueued)
	if err != nil {
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim task rows: %w", err)
	}
	if rows == 0 {
		return task, false, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	task.Status = core.TaskStatusRunning
	task.UpdatedAt = parseTime(now)
	return task, true, nil
}

// SetTaskStatus moves a task to status, recording errMsg as its last error
// when non-nil. Transitions the task state machine forbids are rejected with
// core.ErrInvalidTransition.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status core.TaskStatus, errMsg *string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load task status: %w", err)
	}
	if err := core.CheckTransition(core.TaskStatus(current), status); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, last_error = COALESCE(?, last_error), updated_at = ?
		WHERE id = ? AND status = ?
	`, status, nullableString(errMsg), s.timestamp(), id, current)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: task %s changed concurrently", core.ErrInvalidTransition, id)
	}
	return tx.Commit()
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus, limit int) ([]*core.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, *status, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// PendingCount returns the number of queued tasks.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE status = ?`, core.TaskStatusQueued).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return count, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id        string
		tenantID  string
		action    string
		payload   string
		status    string
		priority  int
		dryRun    int
		lastError sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &tenantID, &action, &payload, &status, &priority, &dryRun, &lastError, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.Task{
		ID:        id,
		TenantID:  tenantID,
		Action:    action,
		Payload:   core.Payload{},
		Status:    core.TaskStatus(status),
		Priority:  priority,
		DryRun:    dryRun != 0,
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for task %s: %w", id, err)
		}
	}
	if lastError.Valid {
		task.LastError = &lastError.String
	}
	return task, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
