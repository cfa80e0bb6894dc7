package service

import (
	"context"
	"errors"

	"github.com/bishoku/autopilot-codex/internal/ident"
	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/scheduler"
	"github.com/bishoku/autopilot-codex/internal/store"
)

// Event paging bounds
const (
	DefaultEventLimit = store.DefaultEventLimit
	MaxEventLimit     = store.MaxEventLimit
)

// ExecutionResult identifies a batch of task runs
type ExecutionResult struct {
	ExecutionID string   `json:"executionId"`
	RunIDs      []string `json:"runIds"`
}

// GenerateStage creates a QUEUED run for a generative stage and drives it
// to completion. The settled Run is returned even when the invocation
// fails, alongside the error.
func (s *Service) GenerateStage(ctx context.Context, sessionID string, stage protocol.Stage) (*protocol.Run, error) {
	if _, err := scheduler.HandlerFor(stage); err != nil {
		return nil, err
	}
	if err := s.requireRunner(); err != nil {
		return nil, err
	}
	if _, err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}

	run := &protocol.Run{SessionID: sessionID, Stage: stage}
	if err := s.db.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("stage run queued", "session_id", sessionID, "run_id", run.ID, "stage", stage)

	err := s.runner.GenerateStage(ctx, run.ID, sessionID, stage)
	return s.reload(ctx, run), err
}

// StartExecution runs the selected tasks, or every task when selected is
// empty, one after another in task order. Each task gets its own Run. A
// task that reports FAILED does not stop the batch; a fatal invocation
// error does, and is returned with the runs created so far.
func (s *Service) StartExecution(ctx context.Context, sessionID string, selected []string) (*ExecutionResult, error) {
	if err := s.requireRunner(); err != nil {
		return nil, err
	}
	if _, err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	tasks, err := s.db.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(selected) > 0 {
		want := make(map[string]bool, len(selected))
		for _, id := range selected {
			want[id] = true
		}
		filtered := tasks[:0]
		for _, task := range tasks {
			if want[task.TaskID] {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}

	res := &ExecutionResult{ExecutionID: ident.Execution(s.now()), RunIDs: []string{}}
	logger := s.logger.With("session_id", sessionID, "execution_id", res.ExecutionID)
	logger.Info("execution started", "tasks", len(tasks))

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		run, err := s.runTask(ctx, sessionID, task.TaskID, "")
		if run != nil {
			res.RunIDs = append(res.RunIDs, run.ID)
		}
		if err != nil {
			logger.Error("execution stopped", "task_id", task.TaskID, "error", err)
			return res, err
		}
	}

	logger.Info("execution finished", "runs", len(res.RunIDs))
	return res, nil
}

// ExecuteTask runs one task in a fresh Run
func (s *Service) ExecuteTask(ctx context.Context, sessionID, taskID string) (*protocol.Run, error) {
	if err := s.requireRunner(); err != nil {
		return nil, err
	}
	return s.runTask(ctx, sessionID, taskID, "")
}

// RetryTask runs one task again in a fresh Run with extra instructions
// appended to the task prompt
func (s *Service) RetryTask(ctx context.Context, sessionID, taskID, extraPrompt string) (*protocol.Run, error) {
	if err := s.requireRunner(); err != nil {
		return nil, err
	}
	return s.runTask(ctx, sessionID, taskID, extraPrompt)
}

func (s *Service) runTask(ctx context.Context, sessionID, taskID, extraPrompt string) (*protocol.Run, error) {
	if _, err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	task, err := s.db.GetTask(ctx, sessionID, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, notFound("task", taskID)
	}

	run := &protocol.Run{SessionID: sessionID, Stage: protocol.StageExecution, TaskID: &task.TaskID}
	if err := s.db.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("task run queued", "session_id", sessionID, "run_id", run.ID, "task_id", taskID, "retry", extraPrompt != "")

	err = s.runner.ExecuteTask(ctx, run.ID, sessionID, taskID, extraPrompt)
	return s.reload(ctx, run), err
}

// reload returns the persisted state of run, falling back to the in-memory
// copy when it cannot be read
func (s *Service) reload(ctx context.Context, run *protocol.Run) *protocol.Run {
	latest, err := s.db.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil || latest == nil {
		return run
	}
	return latest
}

// ListRuns returns the session's runs, newest first
func (s *Service) ListRuns(ctx context.Context, sessionID string) ([]protocol.Run, error) {
	if _, err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.db.ListRuns(ctx, sessionID)
}

// GetRun returns one run
func (s *Service) GetRun(ctx context.Context, runID string) (*protocol.Run, error) {
	run, err := s.db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, notFound("run", runID)
	}
	return run, nil
}

// ListEvents returns one page of a run's events in arrival order. limit
// must be within 1..500 and offset must not be negative.
func (s *Service) ListEvents(ctx context.Context, runID string, limit, offset int) ([]protocol.RunEvent, error) {
	if limit < 1 || limit > MaxEventLimit {
		return nil, invalid("limit must be between 1 and %d", MaxEventLimit)
	}
	if offset < 0 {
		return nil, invalid("offset must not be negative")
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.db.ListEvents(ctx, runID, limit, offset)
}

// IsBusy reports whether err means the session already has an invocation
// in flight
func IsBusy(err error) bool {
	return errors.Is(err, scheduler.ErrSessionBusy)
}
