// Package mcptools exposes stage generation and task execution as MCP
// tools so a coding assistant can drive the workflow.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/scheduler"
	"github.com/bishoku/autopilot-codex/internal/service"
)

// Tools handles the autopilot_* MCP tools
type Tools struct {
	svc *service.Service
}

// New creates the tool set backed by svc
func New(svc *service.Service) *Tools {
	return &Tools{svc: svc}
}

// NewServer creates an MCP server with every tool registered
func NewServer(svc *service.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"autopilot",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Drive the intent → requirements → acceptance criteria → impact analysis → tasks → execution workflow. "+
			"Generate stages in order, then execute tasks. Every invocation returns its run record; inspect failures with autopilot_get_run."),
	)
	New(svc).Register(s)
	return s
}

// Register adds the tools to s
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(t.GenerateStageDefinition(), t.GenerateStage)
	s.AddTool(t.ExecuteTaskDefinition(), t.ExecuteTask)
	s.AddTool(t.GetRunDefinition(), t.GetRun)
	s.AddTool(t.ListTasksDefinition(), t.ListTasks)
	s.AddTool(t.ListSessionsDefinition(), t.ListSessions)
}

// GenerateStageDefinition describes autopilot_generate_stage
func (t *Tools) GenerateStageDefinition() mcp.Tool {
	return mcp.NewTool("autopilot_generate_stage",
		mcp.WithDescription(
			"Run one generative stage for a session with Codex and persist its structured output. "+
				"Blocks until the run finishes and returns the run record.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to generate for."),
		),
		mcp.WithString("stage",
			mcp.Required(),
			mcp.Description("Stage to generate."),
			mcp.Enum("requirements", "acceptance-criteria", "impact-analysis", "tasks"),
		),
	)
}

// GenerateStage handles autopilot_generate_stage
func (t *Tools) GenerateStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stage, ok := protocol.ParseStage(raw)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown stage %q", raw)), nil
	}

	run, err := t.svc.GenerateStage(ctx, sessionID, stage)
	return runResult(run, err)
}

// ExecuteTaskDefinition describes autopilot_execute_task
func (t *Tools) ExecuteTaskDefinition() mcp.Tool {
	return mcp.NewTool("autopilot_execute_task",
		mcp.WithDescription(
			"Execute one task in the session's project with Codex in full-auto mode. "+
				"Pass extra_prompt to retry with additional instructions. Returns the run record.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session that owns the task."),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task to execute, e.g. task-0001."),
		),
		mcp.WithString("extra_prompt",
			mcp.Description("Extra instructions appended to the task prompt."),
		),
	)
}

// ExecuteTask handles autopilot_execute_task
func (t *Tools) ExecuteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var run *protocol.Run
	if extra := req.GetString("extra_prompt", ""); extra != "" {
		run, err = t.svc.RetryTask(ctx, sessionID, taskID, extra)
	} else {
		run, err = t.svc.ExecuteTask(ctx, sessionID, taskID)
	}
	return runResult(run, err)
}

// GetRunDefinition describes autopilot_get_run
func (t *Tools) GetRunDefinition() mcp.Tool {
	return mcp.NewTool("autopilot_get_run",
		mcp.WithDescription("Show a run record: stage, status, timestamps, error and task."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run to inspect."),
		),
	)
}

// GetRun handles autopilot_get_run
func (t *Tools) GetRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := t.svc.GetRun(ctx, runID)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(run)
}

// ListTasksDefinition describes autopilot_list_tasks
func (t *Tools) ListTasksDefinition() mcp.Tool {
	return mcp.NewTool("autopilot_list_tasks",
		mcp.WithDescription("List a session's tasks in order with status, attempts and last error."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session whose tasks to list."),
		),
	)
}

// ListTasks handles autopilot_list_tasks
func (t *Tools) ListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := t.svc.GetSession(ctx, sessionID); err != nil {
		return toolError(err)
	}

	tasks, err := t.svc.ListTasks(ctx, sessionID)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(tasks)
}

// ListSessionsDefinition describes autopilot_list_sessions
func (t *Tools) ListSessionsDefinition() mcp.Tool {
	return mcp.NewTool("autopilot_list_sessions",
		mcp.WithDescription("List sessions, newest first, with their project path and current stage."),
	)
}

// ListSessions handles autopilot_list_sessions
func (t *Tools) ListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := t.svc.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return jsonResult(sessions)
}

// runResult reports the run record. A run that failed is still a tool
// result, flagged as an error, so the caller sees the recorded outcome.
func runResult(run *protocol.Run, err error) (*mcp.CallToolResult, error) {
	if err != nil && run == nil {
		return toolError(err)
	}
	data, merr := json.MarshalIndent(run, "", "  ")
	if merr != nil {
		return nil, fmt.Errorf("encoding run: %w", merr)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run %s failed: %v\n\n%s", run.ID, err, data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError turns caller mistakes into tool errors and keeps everything
// else as a protocol error
func toolError(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrInvalid),
		errors.Is(err, scheduler.ErrUnsupportedStage),
		errors.Is(err, scheduler.ErrSessionBusy):
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
