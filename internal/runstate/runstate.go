// Package runstate owns the Run and Task state machines.
//
// A Run moves QUEUED -> RUNNING -> SUCCEEDED|FAILED and never leaves a
// terminal status. A Task's attempts counter is incremented once per
// execution attempt, before the outcome is known.
package runstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

var (
	// ErrTerminal is returned when a transition is attempted on a finished Run
	ErrTerminal = errors.New("run already finished")
	// ErrInvalidTransition is returned for any other disallowed transition
	ErrInvalidTransition = errors.New("invalid run transition")
	// ErrRunNotFound is returned when the Run does not exist
	ErrRunNotFound = errors.New("run not found")
)

// RunStore is the subset of the run repository the controller needs
type RunStore interface {
	GetRun(ctx context.Context, id string) (*protocol.Run, error)
	UpdateRun(ctx context.Context, id string, patch protocol.RunPatch) error
}

// TaskStore is the subset of the task repository the controller needs
type TaskStore interface {
	UpdateTask(ctx context.Context, sessionID, taskID string, patch protocol.TaskPatch) error
}

// Controller applies lifecycle transitions to persisted Runs and Tasks
type Controller struct {
	runs   RunStore
	tasks  TaskStore
	logger *slog.Logger
	now    func() time.Time
}

// NewController creates a lifecycle controller
func NewController(runs RunStore, tasks TaskStore, logger *slog.Logger) *Controller {
	return &Controller{
		runs:   runs,
		tasks:  tasks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// CanTransition reports whether a Run may move from one status to another
func CanTransition(from, to protocol.RunStatus) bool {
	switch from {
	case protocol.RunStatusQueued:
		return to == protocol.RunStatusRunning || to == protocol.RunStatusFailed
	case protocol.RunStatusRunning:
		return to == protocol.RunStatusSucceeded || to == protocol.RunStatusFailed
	}
	return false
}

func (c *Controller) transition(ctx context.Context, runID string, to protocol.RunStatus, patch protocol.RunPatch) error {
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, runID, run.Status)
	}
	if !CanTransition(run.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, to)
	}

	patch.Status = &to
	if err := c.runs.UpdateRun(ctx, runID, patch); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}

	c.logger.Debug("run transition", "run_id", runID, "from", run.Status, "to", to)
	return nil
}

// Start moves a queued Run to RUNNING and records startedAt
func (c *Controller) Start(ctx context.Context, runID string) error {
	now := c.now()
	return c.transition(ctx, runID, protocol.RunStatusRunning, protocol.RunPatch{StartedAt: &now})
}

// Succeed finishes a running Run
func (c *Controller) Succeed(ctx context.Context, runID string) error {
	now := c.now()
	return c.transition(ctx, runID, protocol.RunStatusSucceeded, protocol.RunPatch{EndedAt: &now})
}

// Fail finishes a Run with an error message. A queued Run may fail
// without ever having started.
func (c *Controller) Fail(ctx context.Context, runID, message string) error {
	now := c.now()
	return c.transition(ctx, runID, protocol.RunStatusFailed, protocol.RunPatch{EndedAt: &now, Error: &message})
}

// BeginAttempt increments the task's attempts and marks it RUNNING
func (c *Controller) BeginAttempt(ctx context.Context, task *protocol.Task) error {
	attempts := task.Attempts + 1
	status := protocol.TaskStatusRunning
	if err := c.tasks.UpdateTask(ctx, task.SessionID, task.TaskID, protocol.TaskPatch{
		Attempts: &attempts,
		Status:   &status,
	}); err != nil {
		return fmt.Errorf("failed to start task %s: %w", task.TaskID, err)
	}
	task.Attempts = attempts
	task.Status = status
	return nil
}

// CompleteTask records a successful attempt and clears lastError
func (c *Controller) CompleteTask(ctx context.Context, sessionID, taskID, summary string) error {
	status := protocol.TaskStatusSucceeded
	if err := c.tasks.UpdateTask(ctx, sessionID, taskID, protocol.TaskPatch{
		Status:         &status,
		ResultSummary:  &summary,
		ClearLastError: true,
	}); err != nil {
		return fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}
	return nil
}

// FailTask records a failed attempt. summary is only written when non-nil.
func (c *Controller) FailTask(ctx context.Context, sessionID, taskID string, summary *string, message string) error {
	status := protocol.TaskStatusFailed
	if err := c.tasks.UpdateTask(ctx, sessionID, taskID, protocol.TaskPatch{
		Status:        &status,
		ResultSummary: summary,
		LastError:     &message,
	}); err != nil {
		return fmt.Errorf("failed to fail task %s: %w", taskID, err)
	}
	return nil
}
