// Package worker runs the task loop: claim a task, resolve its tenant
// session and action, run it under the executor and write the outcome back.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shopagent/internal/action"
	"shopagent/internal/core"
	"shopagent/internal/locator"
	"shopagent/internal/notify"
	"shopagent/internal/pool"
	"shopagent/internal/store"
)

// Config controls loop pacing.
type Config struct {
	WorkerID string
	// PollInterval is slept when no task is queued.
	PollInterval time.Duration
	// TaskDelay is slept after each processed task.
	TaskDelay time.Duration
	// ErrorCooldown is slept after a cycle fails unexpectedly.
	ErrorCooldown time.Duration
	// TeardownTimeout bounds session teardown when the loop exits.
	TeardownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkerID:        "worker-01",
		PollInterval:    10 * time.Second,
		TaskDelay:       time.Second,
		ErrorCooldown:   5 * time.Second,
		TeardownTimeout: 30 * time.Second,
	}
}

// Store is the task store surface the worker writes through.
type Store interface {
	action.ArtifactRecorder
	ClaimNextTask(ctx context.Context) (*core.Task, error)
	SetTaskStatus(ctx context.Context, id string, status core.TaskStatus, errMsg *string) error
	CreateRun(ctx context.Context, taskID, workerID string) (string, error)
	CompleteRun(ctx context.Context, runID string, result json.RawMessage, errMsg *string) error
}

// SessionPool hands out tenant sessions and tears them down.
type SessionPool interface {
	Acquire(ctx context.Context, tenantID string) (*pool.Handle, error)
	Close(ctx context.Context) error
}

// Worker processes one task at a time until stopped.
type Worker struct {
	cfg      Config
	store    Store
	sessions SessionPool
	registry *action.Registry
	executor *action.Executor
	notifier notify.Notifier
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a worker. A nil notifier disables failure notifications.
func New(cfg Config, st Store, sessions SessionPool, registry *action.Registry, executor *action.Executor, notifier notify.Notifier, logger *slog.Logger) *Worker {
	if cfg.WorkerID == "" {
		cfg.WorkerID = DefaultConfig().WorkerID
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultConfig().TeardownTimeout
	}
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	return &Worker{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		registry: registry,
		executor: executor,
		notifier: notifier,
		logger:   logger.With("worker_id", cfg.WorkerID),
		stop:     make(chan struct{}),
	}
}

// Stop asks the loop to exit after the current cycle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) stopped(ctx context.Context) bool {
	select {
	case <-w.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run loops until Stop is called or ctx is done, then disconnects all pooled
// sessions and releases the provider. An in-flight task is always finished
// before the loop checks for a stop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "actions", w.registry.Names())
	defer w.teardown(ctx)

	for !w.stopped(ctx) {
		processed, err := w.RunOnce(context.WithoutCancel(ctx))
		wait := w.cfg.PollInterval
		switch {
		case err != nil:
			metricCycleErrors.Inc()
			w.logger.Error("worker cycle failed", "err", err, "cooldown", w.cfg.ErrorCooldown)
			wait = w.cfg.ErrorCooldown
		case processed:
			wait = w.cfg.TaskDelay
		default:
			w.logger.Debug("no queued task", "poll_interval", w.cfg.PollInterval)
		}
		w.sleep(ctx, wait)
	}
	w.logger.Info("worker stopping")
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-t.C:
	}
}

func (w *Worker) teardown(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.TeardownTimeout)
	defer cancel()
	if err := w.sessions.Close(tctx); err != nil {
		w.logger.Warn("session teardown incomplete", "err", err)
		return
	}
	w.logger.Info("sessions released")
}

// RunOnce claims and processes one task. It reports whether a task was
// processed; the error covers store and unexpected failures only, since
// action failures are recorded on the task.
func (w *Worker) RunOnce(ctx context.Context) (processed bool, err error) {
	task, err := w.store.ClaimNextTask(ctx)
	if errors.Is(err, store.ErrNoTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return true, w.process(ctx, task)
}

func (w *Worker) process(ctx context.Context, task *core.Task) (err error) {
	logger := w.logger.With("task_id", task.ID, "tenant_id", task.TenantID, "action", task.Action)
	logger.Info("task claimed", "priority", task.Priority, "dry_run", task.DryRun)

	runID, err := w.store.CreateRun(ctx, task.ID, w.cfg.WorkerID)
	if err != nil {
		msg := fmt.Sprintf("%s: create run: %v", action.KindException, err)
		if serr := w.store.SetTaskStatus(ctx, task.ID, core.TaskStatusFailed, &msg); serr != nil {
			logger.Error("mark task failed", "err", serr)
		}
		return fmt.Errorf("create run for task %s: %w", task.ID, err)
	}
	logger = logger.With("run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing task %s: %v", task.ID, r)
			out := action.Fail(task.Action, action.KindException, "%v", r)
			if ferr := w.finish(ctx, logger, task, runID, out); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
	}()

	handle, err := w.sessions.Acquire(ctx, task.TenantID)
	if err != nil {
		return w.finish(ctx, logger, task, runID, sessionFailure(task.Action, err))
	}

	act, err := w.registry.New(task.Action)
	if err != nil {
		return w.finish(ctx, logger, task, runID, action.Fail(task.Action, action.KindConfig, "%v", err))
	}

	actx := action.Context{
		TaskID:   task.ID,
		RunID:    runID,
		TenantID: task.TenantID,
		Site:     locator.SiteCode(localeOf(task.Payload)),
		DryRun:   task.DryRun,
	}
	out := w.executor.Execute(ctx, act, handle.Session, actx, task.Payload)
	return w.finish(ctx, logger, task, runID, out)
}

// finish completes the run and moves the task to its terminal status.
func (w *Worker) finish(ctx context.Context, logger *slog.Logger, task *core.Task, runID string, out action.Outcome) error {
	result, err := json.Marshal(out)
	if err != nil {
		result = nil
		logger.Error("encode outcome", "err", err)
	}

	var runErr, taskErr *string
	status := core.TaskStatusSuccess
	if !out.OK {
		status = core.TaskStatusFailed
		msg := out.ErrorMessage
		summary := out.Summary()
		runErr, taskErr = &msg, &summary
	}

	var errs []error
	if err := w.store.CompleteRun(ctx, runID, result, runErr); err != nil {
		errs = append(errs, fmt.Errorf("complete run %s: %w", runID, err))
	}
	if err := w.store.SetTaskStatus(ctx, task.ID, status, taskErr); err != nil {
		errs = append(errs, fmt.Errorf("set task %s %s: %w", task.ID, status, err))
	}
	metricTasks.WithLabelValues(string(status)).Inc()

	if out.OK {
		logger.Info("task succeeded", "elapsed_ms", out.ElapsedMS)
	} else {
		logger.Warn("task failed", "error_kind", out.ErrorKind, "err", out.ErrorMessage, "elapsed_ms", out.ElapsedMS)
		w.notifyFailure(ctx, logger, task, out)
	}
	return errors.Join(errs...)
}

func (w *Worker) notifyFailure(ctx context.Context, logger *slog.Logger, task *core.Task, out action.Outcome) {
	title := fmt.Sprintf("Task failed: %s", task.Action)
	body := fmt.Sprintf("tenant %s, task %s\n%s", task.TenantID, task.ID, out.Summary())
	if err := w.notifier.Send(ctx, title, body); err != nil {
		logger.Warn("send failure notification", "err", err)
	}
}

func localeOf(payload core.Payload) string {
	if v, ok := payload["locale"].(string); ok {
		return v
	}
	return ""
}

// sessionFailure reports an Acquire error as a SESSION_ERROR outcome. The
// pool's failure kind is kept in data so runs stay queryable by it.
func sessionFailure(name string, err error) action.Outcome {
	out := action.Fail(name, action.KindSession, "%v", err)
	var serr *pool.SessionError
	if errors.As(err, &serr) {
		out.Data = map[string]any{
			"session_error": string(serr.Kind),
			"tenant_id":     serr.Tenant,
		}
	}
	return out
}
