package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopagent/internal/action"
	"shopagent/internal/core"
	"shopagent/internal/locator"
	"shopagent/internal/schedule"
	"shopagent/internal/store"
)

type fakeScheduler struct {
	ran []string
	err error
}

func (f *fakeScheduler) RunNow(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.ran = append(f.ran, name)
	return "task-" + name, nil
}

func (f *fakeScheduler) NextRuns() map[string]time.Time {
	return map[string]time.Time{"hourly": time.Now()}
}

func newTestServer(t *testing.T, sched Scheduler) (*MCPServer, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	registry := action.Builtins(locator.Default(), action.DefaultTiming())
	return NewMCPServer(st, registry, sched, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestCreateTaskTool(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	res, err := s.handleCreateTask(ctx, call(map[string]any{
		"tenant_id": "shop_a",
		"action":    "fetch_snapshot",
		"payload":   map[string]any{"keyword": "lampu"},
		"priority":  float64(3),
		"dry_run":   true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "Task queued")

	tasks, err := st.ListTasks(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "lampu", tasks[0].Payload["keyword"])
	assert.Equal(t, 3, tasks[0].Priority)
	assert.True(t, tasks[0].DryRun)
}

func TestCreateTaskToolRejectsUnknownAction(t *testing.T) {
	s, st := newTestServer(t, nil)
	res, err := s.handleCreateTask(context.Background(), call(map[string]any{"tenant_id": "shop_a", "action": "nuke"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "update_title")

	n, err := st.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadTools(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	res, err := s.handleListTasks(ctx, call(nil))
	require.NoError(t, err)
	assert.Equal(t, "No tasks found", text(t, res))

	id, err := st.CreateTask(ctx, core.NewTask{TenantID: "shop_a", Action: "update_title"})
	require.NoError(t, err)
	runID, err := st.CreateRun(ctx, id, "worker-01")
	require.NoError(t, err)
	msg := "new_title is required"
	require.NoError(t, st.CompleteRun(ctx, runID, []byte(`{"ok":false}`), &msg))

	res, err = s.handleListTasks(ctx, call(map[string]any{"status": "queued"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), id)

	res, err = s.handleListTasks(ctx, call(map[string]any{"status": "paused"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Action: update_title")

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleListRuns(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), runID)
	assert.Contains(t, text(t, res), msg)

	res, err = s.handleListActions(ctx, call(nil))
	require.NoError(t, err)
	assert.Equal(t, "fetch_ads_summary\nfetch_product_snapshot\nfetch_snapshot\nupdate_title", text(t, res))
}

func TestRunScheduleTool(t *testing.T) {
	sched := &fakeScheduler{}
	s, _ := newTestServer(t, sched)
	ctx := context.Background()

	res, err := s.handleRunSchedule(ctx, call(map[string]any{"name": "hourly"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "task-hourly")
	assert.Equal(t, []string{"hourly"}, sched.ran)

	sched.err = schedule.ErrStillPending
	res, err = s.handleRunSchedule(ctx, call(map[string]any{"name": "hourly"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	sched.err = schedule.ErrUnknownSchedule
	res, err = s.handleRunSchedule(ctx, call(map[string]any{"name": "weekly"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "hourly")
}
