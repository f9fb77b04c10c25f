package core

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change would move a task
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid task status transition")

var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:  {TaskStatusRunning},
	TaskStatusRunning: {TaskStatusSuccess, TaskStatusFailed},
}

// CanTransition reports whether a task may move from one status to another.
// Statuses only move forward: queued -> running -> success|failed.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both statuses
// when CanTransition rejects the change.
func CheckTransition(from, to TaskStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
