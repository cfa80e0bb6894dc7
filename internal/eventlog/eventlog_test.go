package eventlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bishoku/autopilot-codex/internal/ndjson"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventLogWriteRead(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events", "run-1.ndjson")
	logger := testLogger()

	eventLog, err := NewEventLog(logPath, logger)
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}

	ts := time.Date(2025, 10, 19, 8, 30, 0, 0, time.UTC)
	events := []*protocol.RunEvent{
		{ID: "e1", RunID: "run-1", Seq: 1, TS: ts, Type: protocol.EventThreadStarted, Payload: map[string]any{"thread_id": "th_1"}},
		{ID: "e2", RunID: "run-1", Seq: 2, TS: ts, Type: protocol.EventTurnCompleted, Payload: map[string]any{}},
	}
	for _, evt := range events {
		if err := eventLog.WriteEvent(evt); err != nil {
			t.Fatalf("failed to write event: %v", err)
		}
	}
	if err := eventLog.Close(); err != nil {
		t.Fatalf("failed to close event log: %v", err)
	}

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("failed to open log file for reading: %v", err)
	}
	defer file.Close()

	decoder := ndjson.NewDecoder(file, logger)
	for i, want := range events {
		var got protocol.RunEvent
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("failed to decode event %d: %v", i, err)
		}
		if got.ID != want.ID || got.Type != want.Type || !got.TS.Equal(want.TS) {
			t.Errorf("event %d: got %+v, want %+v", i, got, want)
		}
	}

	var extra protocol.RunEvent
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestEventLogDirectoryCreation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dirs", "events", "test.ndjson")

	eventLog, err := NewEventLog(logPath, testLogger())
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}
	defer eventLog.Close()

	if _, err := os.Stat(filepath.Dir(logPath)); os.IsNotExist(err) {
		t.Error("log directory was not created")
	}
}

func TestMirrorSplitsByRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	mirror, err := NewMirror(dir, testLogger())
	if err != nil {
		t.Fatalf("failed to create mirror: %v", err)
	}

	for _, evt := range []*protocol.RunEvent{
		{ID: "a1", RunID: "run-a", Type: "turn.started"},
		{ID: "b1", RunID: "run-b", Type: "turn.started"},
		{ID: "a2", RunID: "run-a", Type: "turn.completed"},
	} {
		if err := mirror.Append(evt); err != nil {
			t.Fatalf("append %s: %v", evt.ID, err)
		}
	}

	data, err := os.ReadFile(mirror.Path("run-a"))
	if err != nil {
		t.Fatalf("read run-a: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines for run-a, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"id":"a1"`) || !strings.Contains(lines[1], `"id":"a2"`) {
		t.Errorf("events out of order: %v", lines)
	}

	if _, err := os.Stat(filepath.Join(dir, "run-b.ndjson")); err != nil {
		t.Errorf("run-b mirror missing: %v", err)
	}
}

func TestMirrorRejectsEventWithoutRun(t *testing.T) {
	mirror, err := NewMirror(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("failed to create mirror: %v", err)
	}
	if err := mirror.Append(&protocol.RunEvent{ID: "x"}); err == nil {
		t.Fatal("expected error for event without run id")
	}
}
