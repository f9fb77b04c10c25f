package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"shopagent/internal/action"
	"shopagent/internal/core"
	"shopagent/internal/schedule"
	"shopagent/internal/store"
)

// Scheduler is the optional schedule surface exposed as a tool.
type Scheduler interface {
	RunNow(ctx context.Context, name string) (string, error)
	NextRuns() map[string]time.Time
}

// MCPServer exposes the task store as MCP tools.
type MCPServer struct {
	store     *store.Store
	registry  *action.Registry
	scheduler Scheduler
	logger    *slog.Logger
}

// NewMCPServer creates a new MCP server instance. scheduler may be nil.
func NewMCPServer(store *store.Store, registry *action.Registry, scheduler Scheduler, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Run serves MCP over stdio until ctx is done.
func (s *MCPServer) Run(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"shopagent",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	err := server.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("agent_create_task",
		mcp.WithDescription("Queue a browser automation task for a tenant shop"),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant (shop account) id"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Action name, see agent_list_actions"),
		),
		mcp.WithObject("payload",
			mcp.Description("Action input, e.g. {\"keyword\": \"lampu\", \"limit\": 10}"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Higher runs first, default 0"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Validate and report without changing the shop"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("agent_list_tasks",
		mcp.WithDescription("List tasks, newest first"),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum("queued", "running", "success", "failed"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum tasks to return, default 20"),
			mcp.Min(1),
			mcp.Max(200),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("agent_get_task",
		mcp.WithDescription("Show a task and its last error"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task id"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("agent_list_runs",
		mcp.WithDescription("Show the run history of a task with outcomes"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task id"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("agent_list_actions",
		mcp.WithDescription("List the registered action names"),
	), s.handleListActions)

	count := 5
	if s.scheduler != nil {
		mcpServer.AddTool(mcp.NewTool("agent_run_schedule",
			mcp.WithDescription("Enqueue a configured schedule immediately"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Schedule name from the schedules file"),
			),
		), s.handleRunSchedule)
		count++
	}

	s.logger.Info("MCP tools registered", "count", count)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := strings.TrimSpace(mcp.ParseString(request, "tenant_id", ""))
	name := strings.TrimSpace(mcp.ParseString(request, "action", ""))
	if tenantID == "" || name == "" {
		return mcp.NewToolResultError("tenant_id and action are required"), nil
	}
	if !s.registry.Has(name) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q (available: %s)", name, strings.Join(s.registry.Names(), ", "))), nil
	}

	newTask := core.NewTask{
		TenantID: tenantID,
		Action:   name,
		Payload:  mcp.ParseStringMap(request, "payload", nil),
		Priority: int(mcp.ParseFloat64(request, "priority", 0)),
		DryRun:   mcp.ParseBoolean(request, "dry_run", false),
	}
	id, err := s.store.CreateTask(ctx, newTask)
	if err != nil {
		s.logger.Error("insert task", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("create task failed: %v", err)), nil
	}
	s.logger.Info("task enqueued", "task_id", id, "tenant_id", tenantID, "action", name)

	return mcp.NewToolResultText(fmt.Sprintf("Task queued\nID: %s\nTenant: %s\nAction: %s\nDry run: %t",
		id, tenantID, name, newTask.DryRun)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.TaskStatus
	if raw := mcp.ParseString(request, "status", ""); raw != "" {
		st := core.TaskStatus(raw)
		if !st.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", raw)), nil
		}
		statusFilter = &st
	}
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	tasks, err := s.store.ListTasks(ctx, statusFilter, limit)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("list tasks failed: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s\n", statusToIcon(t.Status), t.ID)
		fmt.Fprintf(&b, "  Tenant: %s\n", t.TenantID)
		fmt.Fprintf(&b, "  Action: %s\n", t.Action)
		fmt.Fprintf(&b, "  Status: %s\n", t.Status)
		if t.LastError != nil {
			fmt.Fprintf(&b, "  Error: %s\n", truncateString(*t.LastError, 80))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("get task failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Tenant: %s\n", task.TenantID)
	fmt.Fprintf(&b, "Action: %s\n", task.Action)
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	fmt.Fprintf(&b, "Priority: %d\n", task.Priority)
	fmt.Fprintf(&b, "Dry run: %t\n", task.DryRun)
	if len(task.Payload) > 0 {
		fmt.Fprintf(&b, "Payload: %v\n", map[string]any(task.Payload))
	}
	if task.LastError != nil {
		fmt.Fprintf(&b, "Last error: %s\n", *task.LastError)
	}
	fmt.Fprintf(&b, "Created: %s\n", formatTime(&task.CreatedAt))
	fmt.Fprintf(&b, "Updated: %s\n", formatTime(&task.UpdatedAt))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.store.ListRuns(ctx, taskID, limit, 0)
	if err != nil {
		s.logger.Error("list runs", "task_id", taskID, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %s has %d runs:\n\n", taskID, len(runs))
	for _, run := range runs {
		fmt.Fprintf(&b, "%s\n", run.ID)
		fmt.Fprintf(&b, "  Worker: %s\n", run.WorkerID)
		fmt.Fprintf(&b, "  Started: %s\n", formatTime(&run.StartAt))
		fmt.Fprintf(&b, "  Ended: %s\n", formatTime(run.EndAt))
		if run.Error != nil {
			fmt.Fprintf(&b, "  Error: %s\n", *run.Error)
		}
		if len(run.Result) > 0 {
			fmt.Fprintf(&b, "  Result: %s\n", truncateString(string(run.Result), 400))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(strings.Join(s.registry.Names(), "\n")), nil
}

func (s *MCPServer) handleRunSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	id, err := s.scheduler.RunNow(ctx, name)
	switch {
	case errors.Is(err, schedule.ErrUnknownSchedule):
		names := make([]string, 0)
		for n := range s.scheduler.NextRuns() {
			names = append(names, n)
		}
		return mcp.NewToolResultError(fmt.Sprintf("unknown schedule %q (configured: %s)", name, strings.Join(names, ", "))), nil
	case errors.Is(err, schedule.ErrStillPending):
		return mcp.NewToolResultError(fmt.Sprintf("schedule %s: previous task is still pending", name)), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("run schedule failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Schedule %s enqueued\nTask ID: %s", name, id)), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func statusToIcon(status core.TaskStatus) string {
	switch status {
	case core.TaskStatusSuccess:
		return "✅"
	case core.TaskStatusFailed:
		return "❌"
	case core.TaskStatusRunning:
		return "▶️"
	case core.TaskStatusQueued:
		return "⏳"
	default:
		return "❓"
	}
}
