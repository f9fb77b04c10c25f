package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shopagent/internal/core"
	"shopagent/internal/store"
)

type createTaskRequest struct {
	TenantID string         `json:"tenant_id"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority"`
	DryRun   bool           `json:"dry_run"`
}

type taskResponse struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status"`
	Priority  int            `json:"priority"`
	DryRun    bool           `json:"dry_run"`
	LastError *string        `json:"last_error,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Action = strings.TrimSpace(req.Action)
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "tenant_id is required")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "action is required")
		return
	}
	if !s.registry.Has(req.Action) {
		writeError(w, http.StatusBadRequest, "unknown_action", "unknown action "+strconv.Quote(req.Action))
		return
	}

	id, err := s.store.CreateTask(r.Context(), core.NewTask{
		TenantID: req.TenantID,
		Action:   req.Action,
		Payload:  req.Payload,
		Priority: req.Priority,
		DryRun:   req.DryRun,
	})
	if err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		s.logger.Error("reload task", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	s.logger.Info("task enqueued", "task_id", id, "tenant_id", task.TenantID, "action", task.Action)
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.TaskStatus(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be queued, running, success or failed")
			return
		}
		statusFilter = &st
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	tasks, err := s.store.ListTasks(r.Context(), statusFilter, limit)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	resp := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		resp = append(resp, taskToResponse(task))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for runs list", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	runs, err := s.store.ListRuns(r.Context(), taskID, limit, offset)
	if err != nil {
		s.logger.Error("list runs", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runsToResponse(runs))
}

func taskToResponse(task *core.Task) taskResponse {
	payload := map[string]any(task.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return taskResponse{
		ID:        task.ID,
		TenantID:  task.TenantID,
		Action:    task.Action,
		Payload:   payload,
		Status:    string(task.Status),
		Priority:  task.Priority,
		DryRun:    task.DryRun,
		LastError: task.LastError,
		CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: task.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
