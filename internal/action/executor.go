package action

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"shopagent/internal/core"
)

// ArtifactRecorder persists evidence references for a run.
type ArtifactRecorder interface {
	RecordArtifact(ctx context.Context, runID string, kind core.ArtifactType, location string) (string, error)
}

// Executor runs actions inside the evidence-capture template: a before
// screenshot, the action, then an after screenshot on success or an error
// screenshot when the action raised. It always returns an Outcome.
type Executor struct {
	recorder ArtifactRecorder
	capture  bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates an Executor. Evidence is captured only when capture is
// set and recorder is non-nil.
func NewExecutor(recorder ArtifactRecorder, capture bool, logger *slog.Logger) *Executor {
	return &Executor{
		recorder: recorder,
		capture:  capture && recorder != nil,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute runs a against page.
func (e *Executor) Execute(ctx context.Context, a Action, page Page, actx Context, payload core.Payload) Outcome {
	start := e.now()
	name := a.Name()

	var before string
	if e.capture {
		before = e.evidence(ctx, page, actx.RunID, core.ArtifactBefore)
	}

	out, err := e.invoke(ctx, a, page, actx, payload)
	switch {
	case err != nil:
		out = Fail(name, KindException, "%s", err.Error())
		if e.capture {
			if shot := e.evidence(ctx, page, actx.RunID, core.ArtifactError); shot != "" {
				out.Evidence = &Evidence{Error: shot}
			}
		}
	case out.OK:
		out.ErrorKind = ""
		out.ErrorMessage = ""
		if e.capture {
			after := e.evidence(ctx, page, actx.RunID, core.ArtifactAfter)
			out.Evidence = &Evidence{Before: before, After: after}
		}
	default:
		if !out.ErrorKind.Valid() {
			e.logger.Warn("action returned unclassified failure", "action", name, "kind", out.ErrorKind)
			out.ErrorKind = KindException
		}
	}
	if out.ActionName == "" {
		out.ActionName = name
	}

	elapsed := e.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	out.ElapsedMS = elapsed.Milliseconds()

	kind := "OK"
	if !out.OK {
		kind = string(out.ErrorKind)
	}
	metricOutcomes.WithLabelValues(name, kind).Inc()
	metricDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	return out
}

// invoke calls Run and converts a panic into an error.
func (e *Executor) invoke(ctx context.Context, a Action, page Page, actx Context, payload core.Payload) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked", "action", a.Name(), "task_id", actx.TaskID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run(ctx, actx, page, payload)
}

// evidence takes a screenshot and records it. Failures are logged and yield "".
func (e *Executor) evidence(ctx context.Context, page Page, runID string, kind core.ArtifactType) (path string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("screenshot panicked", "run_id", runID, "stage", kind, "panic", r)
			path = ""
		}
	}()
	shot, err := page.Screenshot(ctx, runID+"_"+string(kind))
	if err != nil {
		e.logger.Warn("screenshot failed", "run_id", runID, "stage", kind, "err", err)
		return ""
	}
	if _, err := e.recorder.RecordArtifact(ctx, runID, kind, shot); err != nil {
		e.logger.Warn("record artifact failed", "run_id", runID, "stage", kind, "err", err)
	}
	return shot
}
