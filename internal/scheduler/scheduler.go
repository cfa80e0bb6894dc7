// Package scheduler drives one agent invocation per Run: it builds the
// prompt and output schema for a stage or task, consumes the agent's event
// stream in order, persists the structured result and settles the Run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bishoku/autopilot-codex/internal/prompt"
	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/runstate"
)

// Store is the persistence the orchestrator works against
type Store interface {
	GetSession(ctx context.Context, id string) (*protocol.Session, error)
	UpdateSession(ctx context.Context, id string, patch protocol.SessionPatch) error
	GetIntent(ctx context.Context, sessionID string) (*protocol.Intent, error)
	ListRequirements(ctx context.Context, sessionID string) ([]protocol.Requirement, error)
	ReplaceRequirements(ctx context.Context, sessionID string, items []protocol.Requirement) error
	ReplaceCriteria(ctx context.Context, sessionID string, items []protocol.AcceptanceCriterion) error
	UpsertImpact(ctx context.Context, sessionID string, ia *protocol.ImpactAnalysis) error
	ReplaceTasks(ctx context.Context, sessionID string, items []protocol.Task) error
	GetTask(ctx context.Context, sessionID, taskID string) (*protocol.Task, error)
	UpdateTask(ctx context.Context, sessionID, taskID string, patch protocol.TaskPatch) error
	GetRun(ctx context.Context, id string) (*protocol.Run, error)
	UpdateRun(ctx context.Context, id string, patch protocol.RunPatch) error
	AppendEvent(ctx context.Context, evt *protocol.RunEvent) error
}

// Sink receives live notifications for every agent event
type Sink interface {
	Publish(sessionID string, evt protocol.SinkEvent)
}

// EventLogger mirrors persisted run events to a secondary log
type EventLogger interface {
	Append(evt *protocol.RunEvent) error
}

// Orchestrator runs stage generation and task execution invocations
type Orchestrator struct {
	store     Store
	agent     protocol.Streamer
	sink      Sink
	lifecycle *runstate.Controller
	logger    *slog.Logger
	now       func() time.Time

	locks     *sessionLocks
	exclusive bool

	// Optional console and mirror hooks (CLI integration)
	onEvent  func(protocol.SinkEvent)
	eventLog EventLogger
}

// NewOrchestrator creates an orchestrator. sink may be nil.
func NewOrchestrator(st Store, agent protocol.Streamer, sink Sink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		agent:     agent,
		sink:      sink,
		lifecycle: runstate.NewController(st, st, logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newSessionLocks(),
		exclusive: true,
	}
}

// SetEventHandler sets the callback for forwarded events
func (o *Orchestrator) SetEventHandler(handler func(protocol.SinkEvent)) {
	o.onEvent = handler
}

// SetSink sets the live notification sink
func (o *Orchestrator) SetSink(sink Sink) {
	o.sink = sink
}

// SetEventLogger sets the run event mirror
func (o *Orchestrator) SetEventLogger(logger EventLogger) {
	o.eventLog = logger
}

// SetExclusiveSessions controls whether a session may have more than one
// invocation in flight
func (o *Orchestrator) SetExclusiveSessions(exclusive bool) {
	o.exclusive = exclusive
}

// SetClock overrides the timestamp source for events and transitions
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.lifecycle.SetClock(now)
}

// busy reports whether the session has an invocation in flight
func (o *Orchestrator) busy(sessionID string) bool {
	return o.exclusive && o.locks.busy(sessionID)
}

func (o *Orchestrator) acquire(sessionID string) (func(), error) {
	if !o.exclusive {
		return func() {}, nil
	}
	if !o.locks.tryLock(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	return func() { o.locks.unlock(sessionID) }, nil
}

// fail settles the Run as FAILED. It runs even when ctx is cancelled.
func (o *Orchestrator) fail(ctx context.Context, runID string, cause error) {
	if err := o.lifecycle.Fail(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		o.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
}

// GenerateStage runs one generative stage for a session against a QUEUED
// Run. Any failure marks the Run FAILED and is returned.
func (o *Orchestrator) GenerateStage(ctx context.Context, runID, sessionID string, stage protocol.Stage) error {
	logger := o.logger.With("session_id", sessionID, "run_id", runID, "stage", stage)

	release, err := o.acquire(sessionID)
	if err != nil {
		o.fail(ctx, runID, err)
		return err
	}
	defer release()

	if err := o.generateStage(ctx, runID, sessionID, stage); err != nil {
		err = cancelled(ctx, err)
		logger.Error("stage generation failed", "error", err)
		o.fail(ctx, runID, err)
		return err
	}
	logger.Info("stage generation complete")
	return nil
}

func (o *Orchestrator) generateStage(ctx context.Context, runID, sessionID string, stage protocol.Stage) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err := o.lifecycle.Start(ctx, runID); err != nil {
		return err
	}

	handler, err := HandlerFor(stage)
	if err != nil {
		return err
	}
	text, err := handler.Prompt(ctx, o.store, sessionID)
	if err != nil {
		return fmt.Errorf("failed to build prompt: %w", err)
	}
	outputSchema, err := handler.Schema()
	if err != nil {
		return fmt.Errorf("failed to build output schema: %w", err)
	}

	p := o.newProcessor(runID, session, stage, handler.Decode)
	err = o.stream(ctx, p, protocol.StreamRequest{
		ThreadID:         protocol.Deref(session.ThreadID),
		Prompt:           text,
		OutputSchema:     outputSchema,
		WorkingDirectory: session.ProjectPath,
	})
	if err != nil {
		return err
	}
	if p.result == nil {
		return ErrNoStructuredOutput
	}

	if err := p.result.Persist(ctx, o.store, sessionID); err != nil {
		return fmt.Errorf("failed to persist %s output: %w", stage, err)
	}
	current := stage
	if err := o.store.UpdateSession(ctx, sessionID, protocol.SessionPatch{CurrentStage: &current}); err != nil {
		return fmt.Errorf("failed to update current stage: %w", err)
	}
	return o.lifecycle.Succeed(ctx, runID)
}

// ExecuteTask runs one task against a QUEUED Run. A FAILED outcome reported
// by the agent settles the Task and Run as FAILED and returns nil; every
// other failure is returned after both are marked FAILED.
func (o *Orchestrator) ExecuteTask(ctx context.Context, runID, sessionID, taskID, extraPrompt string) error {
	logger := o.logger.With("session_id", sessionID, "run_id", runID, "task_id", taskID)

	release, err := o.acquire(sessionID)
	if err != nil {
		o.fail(ctx, runID, err)
		return err
	}
	defer release()

	started, err := o.executeTask(ctx, runID, sessionID, taskID, extraPrompt)
	if err != nil {
		err = cancelled(ctx, err)
		logger.Error("task execution failed", "error", err)
		if started {
			if terr := o.lifecycle.FailTask(context.WithoutCancel(ctx), sessionID, taskID, nil, err.Error()); terr != nil {
				logger.Error("failed to mark task failed", "error", terr)
			}
		}
		o.fail(ctx, runID, err)
		return err
	}
	return nil
}

// executeTask reports whether the task reached RUNNING so the caller knows
// whether it has to be settled too.
func (o *Orchestrator) executeTask(ctx context.Context, runID, sessionID, taskID, extraPrompt string) (bool, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	task, err := o.store.GetTask(ctx, sessionID, taskID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if err := o.lifecycle.Start(ctx, runID); err != nil {
		return false, err
	}
	if err := o.lifecycle.BeginAttempt(ctx, task); err != nil {
		return false, err
	}

	outputSchema, err := taskSchema()
	if err != nil {
		return true, fmt.Errorf("failed to build output schema: %w", err)
	}

	p := o.newProcessor(runID, session, protocol.StageExecution, decodeTaskOutcome)
	err = o.stream(ctx, p, protocol.StreamRequest{
		ThreadID:         protocol.Deref(session.ThreadID),
		Prompt:           prompt.Task(task, extraPrompt),
		OutputSchema:     outputSchema,
		WorkingDirectory: session.ProjectPath,
		FullAuto:         true,
	})
	if err != nil {
		return true, err
	}
	outcome, ok := p.result.(taskOutcome)
	if !ok {
		return true, ErrNoStructuredOutput
	}

	if outcome.Failed {
		o.logger.Warn("task reported failure", "session_id", sessionID, "run_id", runID, "task_id", taskID, "error", outcome.Error)
		var summary *string
		if outcome.ResultSummary != "" {
			summary = &outcome.ResultSummary
		}
		if err := o.lifecycle.FailTask(ctx, sessionID, taskID, summary, outcome.Error); err != nil {
			return true, err
		}
		if err := o.lifecycle.Fail(ctx, runID, outcome.Error); err != nil {
			o.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
		}
		return true, nil
	}

	if err := o.lifecycle.CompleteTask(ctx, sessionID, taskID, outcome.ResultSummary); err != nil {
		return true, err
	}
	return true, o.lifecycle.Succeed(ctx, runID)
}

// stream opens the agent and feeds its events through p
func (o *Orchestrator) stream(ctx context.Context, p *processor, req protocol.StreamRequest) error {
	stream, err := o.agent.RunStreamed(ctx, req)
	if err != nil {
		return streamError(ctx, err)
	}
	defer stream.Close()

	p.logger.Info("codex invocation started", "resume", req.ThreadID != "", "full_auto", req.FullAuto)
	return o.consume(ctx, p, stream)
}
