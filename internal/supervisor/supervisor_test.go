package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/bishoku/autopilot-codex/internal/agent/script"
	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		req    protocol.StreamRequest
		schema string
		want   []string
	}{
		{
			name:   "new thread with schema",
			cfg:    Config{Sandbox: SandboxWorkspaceWrite},
			req:    protocol.StreamRequest{Prompt: "do it"},
			schema: "/tmp/s.json",
			want:   []string{"exec", "--json", "--sandbox", "workspace-write", "--output-schema", "/tmp/s.json", "do it"},
		},
		{
			name: "full auto replaces sandbox",
			cfg:  Config{Sandbox: SandboxReadOnly, SkipGitRepoCheck: true},
			req:  protocol.StreamRequest{Prompt: "p", FullAuto: true},
			want: []string{"exec", "--json", "--full-auto", "--skip-git-repo-check", "p"},
		},
		{
			name: "resume with extra args",
			cfg:  Config{ExtraArgs: []string{"--model", "gpt-5-codex"}},
			req:  protocol.StreamRequest{Prompt: "p", ThreadID: "th_9"},
			want: []string{"exec", "--json", "--model", "gpt-5-codex", "resume", "th_9", "p"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.cfg, tt.req, tt.schema))
		})
	}
}

func TestRunStreamedConversation(t *testing.T) {
	bin := buildMockCodex(t)
	workDir := t.TempDir()
	schemaDir := t.TempDir()
	record := filepath.Join(t.TempDir(), "record.json")

	sup := NewCodexSupervisor(Config{
		BinPath:   bin,
		SchemaDir: schemaDir,
		Env:       map[string]string{"MOCKCODEX_RECORD": record},
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := sup.RunStreamed(ctx, protocol.StreamRequest{
		Prompt:           "Generate implementation tasks",
		WorkingDirectory: workDir,
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tasks": map[string]any{"type": "array"}},
		},
	})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.NoError(t, stream.Err())

	var types []string
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{
		protocol.EventThreadStarted,
		protocol.EventTurnStarted,
		protocol.EventItemCompleted,
		protocol.EventItemCompleted,
		protocol.EventTurnCompleted,
	}, types)

	threadID, ok := events[0].ThreadID()
	assert.True(t, ok)
	assert.NotEmpty(t, threadID)
	assert.Equal(t, "agent_message", events[3].ItemType)

	inv := readRecord(t, record)
	assert.Equal(t, "Generate implementation tasks", inv.Prompt)
	assert.Contains(t, inv.Schema, "properties")
	assert.False(t, inv.FullAuto)
	resolved, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	assert.Equal(t, resolved, inv.Dir)

	entries, err := os.ReadDir(schemaDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "schema file should be removed after the run")
}

func TestRunStreamedResume(t *testing.T) {
	bin := buildMockCodex(t)
	record := filepath.Join(t.TempDir(), "record.json")

	sup := NewCodexSupervisor(Config{
		BinPath: bin,
		Env:     map[string]string{"MOCKCODEX_RECORD": record},
	}, testLogger())

	stream, err := sup.RunStreamed(context.Background(), protocol.StreamRequest{
		ThreadID:         "th_existing",
		Prompt:           "Execute the task",
		WorkingDirectory: t.TempDir(),
		FullAuto:         true,
	})
	require.NoError(t, err)
	defer stream.Close()

	for _, evt := range collect(t, stream) {
		assert.NotEqual(t, protocol.EventThreadStarted, evt.Type)
	}
	require.NoError(t, stream.Err())

	inv := readRecord(t, record)
	assert.Equal(t, "th_existing", inv.ThreadID)
	assert.True(t, inv.FullAuto)
}

func TestRunStreamedLogAndStderrLines(t *testing.T) {
	bin := buildMockCodex(t)
	scriptPath := writeScript(t, &script.Script{Steps: []script.Step{
		{Line: "plain output"},
		{Stderr: "warning: something"},
		{Event: map[string]any{"type": "turn.completed"}, DelayMs: 20},
	}})

	sup := NewCodexSupervisor(Config{
		BinPath: bin,
		Env:     map[string]string{"MOCKCODEX_SCRIPT": scriptPath},
	}, testLogger())

	stream, err := sup.RunStreamed(context.Background(), protocol.StreamRequest{Prompt: "p", WorkingDirectory: t.TempDir()})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.NoError(t, stream.Err())

	byType := map[string]protocol.Event{}
	for _, evt := range events {
		byType[evt.Type] = evt
	}
	require.Contains(t, byType, protocol.EventLog)
	require.Contains(t, byType, protocol.EventStderr)
	require.Contains(t, byType, protocol.EventTurnCompleted)

	assert.Equal(t, "plain output", byType[protocol.EventLog].Message)
	assert.Equal(t, map[string]any{"line": "plain output"}, byType[protocol.EventLog].Raw)
	assert.Equal(t, "warning: something", byType[protocol.EventStderr].Message)
}

func TestRunStreamedNonZeroExit(t *testing.T) {
	bin := buildMockCodex(t)
	scriptPath := writeScript(t, &script.Script{
		Steps:    []script.Step{{Stderr: "unexpected status 401 Unauthorized"}},
		ExitCode: 3,
	})

	sup := NewCodexSupervisor(Config{
		BinPath: bin,
		Env:     map[string]string{"MOCKCODEX_SCRIPT": scriptPath},
	}, testLogger())

	stream, err := sup.RunStreamed(context.Background(), protocol.StreamRequest{Prompt: "p", WorkingDirectory: t.TempDir()})
	require.NoError(t, err)
	defer stream.Close()

	collect(t, stream)

	err = stream.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExited))
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "401 Unauthorized")
}

func TestRunStreamedCancel(t *testing.T) {
	bin := buildMockCodex(t)
	scriptPath := writeScript(t, &script.Script{
		Steps:  []script.Step{{Event: map[string]any{"type": "turn.started"}}},
		HoldMs: 30000,
	})

	sup := NewCodexSupervisor(Config{
		BinPath: bin,
		Env:     map[string]string{"MOCKCODEX_SCRIPT": scriptPath},
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := sup.RunStreamed(ctx, protocol.StreamRequest{Prompt: "p", WorkingDirectory: t.TempDir()})
	require.NoError(t, err)
	defer stream.Close()

	select {
	case evt := <-stream.Events():
		assert.Equal(t, protocol.EventTurnStarted, evt.Type)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for first event")
	}

	cancel()
	collect(t, stream)

	err = stream.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCloseStopsProcess(t *testing.T) {
	bin := buildMockCodex(t)
	scriptPath := writeScript(t, &script.Script{HoldMs: 30000})

	sup := NewCodexSupervisor(Config{
		BinPath: bin,
		Env:     map[string]string{"MOCKCODEX_SCRIPT": scriptPath},
	}, testLogger())

	stream, err := sup.RunStreamed(context.Background(), protocol.StreamRequest{Prompt: "p", WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, errors.Is(stream.Err(), context.Canceled))
}

func TestRunStreamedMissingBinary(t *testing.T) {
	schemaDir := t.TempDir()
	sup := NewCodexSupervisor(Config{
		BinPath:   filepath.Join(t.TempDir(), "does-not-exist"),
		SchemaDir: schemaDir,
	}, testLogger())

	_, err := sup.RunStreamed(context.Background(), protocol.StreamRequest{
		Prompt:       "p",
		OutputSchema: map[string]any{"type": "object"},
	})
	require.Error(t, err)

	entries, err := os.ReadDir(schemaDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func collect(t *testing.T, stream protocol.EventStream) []protocol.Event {
	t.Helper()

	var events []protocol.Event
	timeout := time.After(20 * time.Second)
	for {
		select {
		case evt, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("timeout waiting for stream to finish")
		}
	}
}

func writeScript(t *testing.T, s *script.Script) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.json")
	require.NoError(t, s.Save(path))
	return path
}

func readRecord(t *testing.T, path string) recordedInvocation {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var inv recordedInvocation
	require.NoError(t, json.Unmarshal(data, &inv))
	return inv
}

type recordedInvocation struct {
	Dir      string         `json:"dir"`
	FullAuto bool           `json:"full_auto"`
	Schema   map[string]any `json:"schema"`
	ThreadID string         `json:"thread_id"`
	Prompt   string         `json:"prompt"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildMockCodex(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mockcodex")
	cmd := exec.Command("go", "build", "-o", path, "../../cmd/mockcodex")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%v", fmt.Errorf("failed to build mockcodex: %w\n%s", err, out))
	}
	return path
}
