package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shopagent/internal/core"
	"shopagent/internal/store"
)

type runResponse struct {
	ID       string          `json:"id"`
	TaskID   string          `json:"task_id"`
	WorkerID string          `json:"worker_id"`
	StartAt  string          `json:"start_at"`
	EndAt    *string         `json:"end_at,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *string         `json:"error,omitempty"`
}

type artifactResponse struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Type      string `json:"type"`
	Location  string `json:"location"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, ok := s.loadRun(w, r, runID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 10)
	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent runs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runsToResponse(runs))
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, ok := s.loadRun(w, r, runID); !ok {
		return
	}
	artifacts, err := s.store.ListArtifacts(r.Context(), runID)
	if err != nil {
		s.logger.Error("list artifacts", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list artifacts")
		return
	}
	resp := make([]artifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		resp = append(resp, artifactResponse{
			ID:        a.ID,
			RunID:     a.RunID,
			Type:      string(a.Type),
			Location:  a.Location,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request, runID string) (*core.Run, bool) {
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return nil, false
	}
	return run, true
}

func runsToResponse(runs []*core.Run) []runResponse {
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	return resp
}

func runToResponse(run *core.Run) runResponse {
	var ended *string
	if run.EndAt != nil {
		formatted := run.EndAt.UTC().Format(time.RFC3339)
		ended = &formatted
	}
	return runResponse{
		ID:       run.ID,
		TaskID:   run.TaskID,
		WorkerID: run.WorkerID,
		StartAt:  run.StartAt.UTC().Format(time.RFC3339),
		EndAt:    ended,
		Result:   run.Result,
		Error:    run.Error,
	}
}
