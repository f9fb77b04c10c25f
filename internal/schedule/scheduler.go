// Package schedule enqueues tasks on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shopagent/internal/core"
)

// ErrStillPending is returned by RunNow when the previous task enqueued for
// the schedule has not reached a terminal status.
var ErrStillPending = errors.New("previous task still pending")

// ErrUnknownSchedule is returned by RunNow for unregistered names.
var ErrUnknownSchedule = errors.New("unknown schedule")

// Store is the task store surface the scheduler writes through.
type Store interface {
	CreateTask(ctx context.Context, in core.NewTask) (string, error)
	GetTask(ctx context.Context, id string) (*core.Task, error)
}

// Scheduler enqueues a fresh queued task for each entry at every cron tick.
// A tick is skipped while the entry's previous task is still queued or
// running.
type Scheduler struct {
	store    Store
	logger   *slog.Logger
	location *time.Location

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]*scheduled

	ctx context.Context
}

type scheduled struct {
	entry   Entry
	id      cron.EntryID
	lastRun string
}

// New registers every entry. Entries must already be valid.
func New(store Store, entries []Entry, logger *slog.Logger, location *time.Location) (*Scheduler, error) {
	if location == nil {
		location = time.Local
	}
	s := &Scheduler{
		store:    store,
		logger:   logger,
		location: location,
		cron:     cron.New(cron.WithParser(cronParser), cron.WithLocation(location)),
		entries:  make(map[string]*scheduled, len(entries)),
	}
	for _, e := range entries {
		sched, err := ParseCron(e.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", e.Name, err)
		}
		item := &scheduled{entry: e}
		name := e.Name
		item.id = s.cron.Schedule(sched, cron.FuncJob(func() {
			if _, err := s.RunNow(s.ctxOrBackground(), name); err != nil && !errors.Is(err, ErrStillPending) {
				s.logger.Error("scheduled enqueue failed", "schedule", name, "err", err)
			}
		}))
		s.entries[name] = item
	}
	return s, nil
}

// Start begins firing entries. ctx is used for store writes.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for name, next := range s.NextRuns() {
		s.logger.Info("schedule registered", "schedule", name, "next_run_at", next)
	}
}

// Stop halts the cron loop; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRuns returns the next fire time of every entry by name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	now := time.Now().In(s.location)
	for name, item := range s.entries {
		next := s.cron.Entry(item.id).Next
		if next.IsZero() {
			sched, err := ParseCron(item.entry.Cron)
			if err != nil {
				continue
			}
			next = NextOccurrences(sched, now, 1)[0]
		}
		out[name] = next
	}
	return out
}

// RunNow enqueues the named entry immediately and returns the new task id.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	if item.lastRun != "" {
		prev, err := s.store.GetTask(ctx, item.lastRun)
		if err != nil {
			s.logger.Warn("lookup previous scheduled task", "schedule", name, "task_id", item.lastRun, "err", err)
		} else if !prev.Status.Terminal() {
			metricSkipped.WithLabelValues(name).Inc()
			s.logger.Info("skipping schedule tick, previous task pending",
				"schedule", name, "task_id", prev.ID, "status", prev.Status)
			return "", fmt.Errorf("schedule %s: %w", name, ErrStillPending)
		}
	}

	id, err := s.store.CreateTask(ctx, item.entry.NewTask())
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	item.lastRun = id
	metricEnqueued.WithLabelValues(name).Inc()
	s.logger.Info("scheduled task enqueued",
		"schedule", name, "task_id", id, "tenant_id", item.entry.Tenant, "action", item.entry.Action)
	return id, nil
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
