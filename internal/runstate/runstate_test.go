package runstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*protocol.Run
}

func (m *memRuns) GetRun(_ context.Context, id string) (*protocol.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memRuns) UpdateRun(_ context.Context, id string, patch protocol.RunPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[id]
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.StartedAt != nil {
		run.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		run.EndedAt = patch.EndedAt
	}
	if patch.Error != nil {
		run.Error = patch.Error
	}
	return nil
}

type memTasks struct {
	patches []protocol.TaskPatch
}

func (m *memTasks) UpdateTask(_ context.Context, _, _ string, patch protocol.TaskPatch) error {
	m.patches = append(m.patches, patch)
	return nil
}

func newController(status protocol.RunStatus) (*Controller, *memRuns, *memTasks) {
	runs := &memRuns{runs: map[string]*protocol.Run{
		"run-1": {ID: "run-1", SessionID: "s-1", Stage: protocol.StageRequirements, Status: status},
	}}
	tasks := &memTasks{}
	c := NewController(runs, tasks, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetClock(func() time.Time { return time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC) })
	return c, runs, tasks
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to protocol.RunStatus
		want     bool
	}{
		{protocol.RunStatusQueued, protocol.RunStatusRunning, true},
		{protocol.RunStatusQueued, protocol.RunStatusFailed, true},
		{protocol.RunStatusQueued, protocol.RunStatusSucceeded, false},
		{protocol.RunStatusRunning, protocol.RunStatusSucceeded, true},
		{protocol.RunStatusRunning, protocol.RunStatusFailed, true},
		{protocol.RunStatusRunning, protocol.RunStatusRunning, false},
		{protocol.RunStatusRunning, protocol.RunStatusQueued, false},
		{protocol.RunStatusSucceeded, protocol.RunStatusFailed, false},
		{protocol.RunStatusFailed, protocol.RunStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRunLifecycleSuccess(t *testing.T) {
	c, runs, _ := newController(protocol.RunStatusQueued)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "run-1"))
	run := runs.runs["run-1"]
	assert.Equal(t, protocol.RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)
	assert.Nil(t, run.EndedAt)

	require.NoError(t, c.Succeed(ctx, "run-1"))
	assert.Equal(t, protocol.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.EndedAt)
	assert.Nil(t, run.Error)
}

func TestRunLifecycleFailure(t *testing.T) {
	c, runs, _ := newController(protocol.RunStatusRunning)

	require.NoError(t, c.Fail(context.Background(), "run-1", "No structured output from Codex"))
	run := runs.runs["run-1"]
	assert.Equal(t, protocol.RunStatusFailed, run.Status)
	assert.Equal(t, "No structured output from Codex", protocol.Deref(run.Error))
	assert.NotNil(t, run.EndedAt)
}

func TestQueuedRunCanFail(t *testing.T) {
	c, runs, _ := newController(protocol.RunStatusQueued)

	require.NoError(t, c.Fail(context.Background(), "run-1", "session not found"))
	assert.Equal(t, protocol.RunStatusFailed, runs.runs["run-1"].Status)
	assert.Nil(t, runs.runs["run-1"].StartedAt)
}

func TestTerminalRunsAreFrozen(t *testing.T) {
	for _, status := range []protocol.RunStatus{protocol.RunStatusSucceeded, protocol.RunStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			c, runs, _ := newController(status)
			ctx := context.Background()

			assert.True(t, errors.Is(c.Start(ctx, "run-1"), ErrTerminal))
			assert.True(t, errors.Is(c.Succeed(ctx, "run-1"), ErrTerminal))
			assert.True(t, errors.Is(c.Fail(ctx, "run-1", "late"), ErrTerminal))
			assert.Equal(t, status, runs.runs["run-1"].Status)
			assert.Nil(t, runs.runs["run-1"].Error)
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	c, _, _ := newController(protocol.RunStatusQueued)
	assert.True(t, errors.Is(c.Succeed(context.Background(), "run-1"), ErrInvalidTransition))

	c, _, _ = newController(protocol.RunStatusRunning)
	assert.True(t, errors.Is(c.Start(context.Background(), "run-1"), ErrInvalidTransition))
}

func TestMissingRun(t *testing.T) {
	c, _, _ := newController(protocol.RunStatusQueued)
	assert.True(t, errors.Is(c.Start(context.Background(), "nope"), ErrRunNotFound))
}

func TestTaskAttempts(t *testing.T) {
	c, _, tasks := newController(protocol.RunStatusQueued)
	ctx := context.Background()

	task := &protocol.Task{SessionID: "s-1", TaskID: "task-0001", Status: protocol.TaskStatusFailed, Attempts: 2}
	require.NoError(t, c.BeginAttempt(ctx, task))
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, protocol.TaskStatusRunning, task.Status)

	require.Len(t, tasks.patches, 1)
	assert.Equal(t, 3, *tasks.patches[0].Attempts)
	assert.Equal(t, protocol.TaskStatusRunning, *tasks.patches[0].Status)
}

func TestCompleteTaskClearsLastError(t *testing.T) {
	c, _, tasks := newController(protocol.RunStatusRunning)

	require.NoError(t, c.CompleteTask(context.Background(), "s-1", "task-0001", "done"))
	require.Len(t, tasks.patches, 1)
	p := tasks.patches[0]
	assert.Equal(t, protocol.TaskStatusSucceeded, *p.Status)
	assert.Equal(t, "done", *p.ResultSummary)
	assert.True(t, p.ClearLastError)
	assert.Nil(t, p.Attempts, "attempts must not change on completion")
}

func TestFailTask(t *testing.T) {
	c, _, tasks := newController(protocol.RunStatusRunning)
	ctx := context.Background()

	require.NoError(t, c.FailTask(ctx, "s-1", "task-0001", protocol.StringPtr("Broken"), "Test failure"))
	require.NoError(t, c.FailTask(ctx, "s-1", "task-0001", nil, "codex exited"))

	require.Len(t, tasks.patches, 2)
	assert.Equal(t, protocol.TaskStatusFailed, *tasks.patches[0].Status)
	assert.Equal(t, "Broken", *tasks.patches[0].ResultSummary)
	assert.Equal(t, "Test failure", *tasks.patches[0].LastError)
	assert.Nil(t, tasks.patches[1].ResultSummary)
	assert.Equal(t, "codex exited", *tasks.patches[1].LastError)
}
