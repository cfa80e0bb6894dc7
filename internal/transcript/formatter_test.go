package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestFormatEvent_TurnLifecycle(t *testing.T) {
	tests := []struct {
		name     string
		event    protocol.SinkEvent
		expected string
	}{
		{
			name: "thread started",
			event: protocol.SinkEvent{
				Stage: protocol.StageRequirements,
				Type:  protocol.EventThreadStarted,
				Raw:   map[string]any{"type": "thread.started", "thread_id": "th_42"},
			},
			expected: "[requirements] thread.started: th_42",
		},
		{
			name: "turn started",
			event: protocol.SinkEvent{
				Stage: protocol.StageAcceptanceCriteria,
				Type:  protocol.EventTurnStarted,
				Raw:   map[string]any{},
			},
			expected: "[acceptance-criteria] turn.started",
		},
		{
			name: "turn completed with usage",
			event: protocol.SinkEvent{
				Stage: protocol.StageTasks,
				Type:  protocol.EventTurnCompleted,
				Raw: map[string]any{"usage": map[string]any{
					"input_tokens":  float64(1200),
					"output_tokens": float64(87),
				}},
			},
			expected: "[tasks] turn.completed: tokens in=1200 out=87",
		},
		{
			name: "turn failed",
			event: protocol.SinkEvent{
				Stage: protocol.StageExecution,
				Type:  protocol.EventTurnFailed,
				Raw:   map[string]any{"error": map[string]any{"message": "stream disconnected"}},
			},
			expected: "[execution] turn.failed: stream disconnected",
		},
		{
			name: "no stage",
			event: protocol.SinkEvent{
				Type:    protocol.EventStderr,
				Message: "warning: low disk",
			},
			expected: "[codex] stderr: warning: low disk",
		},
	}

	formatter := NewFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, formatter.FormatEvent(tt.event))
		})
	}
}

func TestFormatEvent_Items(t *testing.T) {
	item := func(itemType, evtType string, fields map[string]any) protocol.SinkEvent {
		fields["type"] = itemType
		return protocol.SinkEvent{
			Stage:    protocol.StageExecution,
			Type:     evtType,
			ItemType: itemType,
			Raw:      map[string]any{"item": fields},
		}
	}

	tests := []struct {
		name     string
		event    protocol.SinkEvent
		expected string
	}{
		{
			name:     "agent message collapses whitespace",
			event:    item("agent_message", protocol.EventItemCompleted, map[string]any{"text": "Done.\n\n  All tests pass."}),
			expected: "[execution] agent_message: Done. All tests pass.",
		},
		{
			name: "command with exit code and output size",
			event: item("command_execution", protocol.EventItemCompleted, map[string]any{
				"command":           "go test ./...",
				"exit_code":         float64(0),
				"aggregated_output": strings.Repeat("x", 2048),
			}),
			expected: "[execution] command_execution: go test ./... (exit 0, 2.0 KiB)",
		},
		{
			name:     "command in progress",
			event:    item("command_execution", protocol.EventItemStarted, map[string]any{"command": "make build"}),
			expected: "[execution] command_execution started: make build",
		},
		{
			name: "file change",
			event: item("file_change", protocol.EventItemCompleted, map[string]any{
				"changes": []any{
					map[string]any{"path": "auth/login.go", "kind": "add"},
					map[string]any{"path": "main.go", "kind": "update"},
				},
			}),
			expected: "[execution] file_change: add auth/login.go, update main.go",
		},
		{
			name:     "mcp tool call",
			event:    item("mcp_tool_call", protocol.EventItemCompleted, map[string]any{"server": "docs", "tool": "search"}),
			expected: "[execution] mcp_tool_call: docs.search",
		},
		{
			name:     "error item",
			event:    item("error", protocol.EventItemCompleted, map[string]any{"message": "patch rejected"}),
			expected: "[execution] error: patch rejected",
		},
	}

	formatter := NewFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, formatter.FormatEvent(tt.event))
		})
	}
}

func TestFormatEvent_TruncatesLongText(t *testing.T) {
	formatter := NewFormatter()
	out := formatter.FormatEvent(protocol.SinkEvent{Type: protocol.EventLog, Message: strings.Repeat("a", 500)})

	require.True(t, strings.HasSuffix(out, "…"))
	require.Less(t, len([]rune(out)), 200)
}

func TestFormatRun(t *testing.T) {
	start := time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC)
	end := start.Add(3250 * time.Millisecond)
	taskID := "task-0002"
	msg := "Test failure"

	formatter := NewFormatter()

	require.Equal(t, "run r1 REQUIREMENTS QUEUED", formatter.FormatRun(&protocol.Run{
		ID: "r1", Stage: protocol.StageRequirements, Status: protocol.RunStatusQueued,
	}))
	require.Equal(t, "run r2 EXECUTION FAILED task=task-0002 (3.3s): Test failure", formatter.FormatRun(&protocol.Run{
		ID: "r2", Stage: protocol.StageExecution, Status: protocol.RunStatusFailed,
		TaskID: &taskID, StartedAt: &start, EndedAt: &end, Error: &msg,
	}))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{name: "bytes", bytes: 512, expected: "512 B"},
		{name: "kilobytes", bytes: 1432, expected: "1.4 KiB"},
		{name: "megabytes", bytes: 1536 * 1024, expected: "1.5 MiB"},
		{name: "gigabytes", bytes: 2 * 1024 * 1024 * 1024, expected: "2.0 GiB"},
		{name: "zero bytes", bytes: 0, expected: "0 B"},
		{name: "exactly 1 KiB", bytes: 1024, expected: "1.0 KiB"},
	}

	formatter := NewFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, formatter.formatSize(tt.bytes))
		})
	}
}
