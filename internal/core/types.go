package core

import (
	"encoding/json"
	"time"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSuccess, TaskStatusFailed:
		return true
	}
	return false
}

// ArtifactType classifies an evidence record attached to a run.
type ArtifactType string

const (
	ArtifactBefore ArtifactType = "before"
	ArtifactAfter  ArtifactType = "after"
	ArtifactError  ArtifactType = "error"
	ArtifactTrace  ArtifactType = "trace"
)

// Payload is the opaque key/value input of a task.
type Payload map[string]any

// Task is one queued unit of automation against a tenant session.
type Task struct {
	ID        string
	TenantID  string
	Action    string
	Payload   Payload
	Status    TaskStatus
	Priority  int
	DryRun    bool
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Run captures a single execution attempt of a task.
type Run struct {
	ID       string
	TaskID   string
	WorkerID string
	StartAt  time.Time
	EndAt    *time.Time
	Result   json.RawMessage
	Error    *string
}

// Artifact references a piece of evidence recorded for a run.
type Artifact struct {
	ID        string
	RunID     string
	Type      ArtifactType
	Location  string
	CreatedAt time.Time
}

// NewTask describes a task to enqueue.
type NewTask struct {
	TenantID string
	Action   string
	Payload  Payload
	Priority int
	DryRun   bool
}
