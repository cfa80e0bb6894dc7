package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.ndjson")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}
	return path
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestReadLedgerMirrorFormat(t *testing.T) {
	ts := time.Date(2025, 10, 19, 10, 0, 0, 0, time.UTC)
	path := writeLines(t,
		mustJSON(t, protocol.RunEvent{ID: "e1", RunID: "run-1", Seq: 1, TS: ts, Type: protocol.EventThreadStarted, Payload: map[string]any{"type": "thread.started", "thread_id": "th_1"}}),
		"",
		mustJSON(t, protocol.RunEvent{ID: "e2", RunID: "run-1", Seq: 2, TS: ts, Type: protocol.EventTurnCompleted, Payload: map[string]any{"type": "turn.completed"}}),
	)

	ledger, err := ReadLedger(path)
	if err != nil {
		t.Fatalf("ReadLedger() error = %v", err)
	}
	if len(ledger.Events) != 2 {
		t.Fatalf("Events count = %d, want 2", len(ledger.Events))
	}
	if ledger.Events[1].ID != "e2" || !ledger.Events[1].TS.Equal(ts) {
		t.Errorf("unexpected second event: %+v", ledger.Events[1])
	}

	id, ok := ledger.ThreadID()
	if !ok || id != "th_1" {
		t.Errorf("ThreadID() = %q, %v; want th_1, true", id, ok)
	}
	if ledger.Interrupted() {
		t.Error("ledger with turn.completed reported as interrupted")
	}
}

func TestReadLedgerRawCodexOutput(t *testing.T) {
	path := writeLines(t,
		`{"type":"thread.started","thread_id":"th_raw"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.completed","item":{"id":"item_0","type":"agent_message","text":"{}"}}`,
	)

	ledger, err := ReadLedger(path)
	if err != nil {
		t.Fatalf("ReadLedger() error = %v", err)
	}
	if len(ledger.Events) != 3 {
		t.Fatalf("Events count = %d, want 3", len(ledger.Events))
	}
	if ledger.Events[2].Seq != 3 || ledger.Events[2].Type != protocol.EventItemCompleted {
		t.Errorf("unexpected third event: %+v", ledger.Events[2])
	}

	counts := ledger.CountByType()
	if counts[protocol.EventTurnStarted] != 1 || counts[protocol.EventItemCompleted] != 1 {
		t.Errorf("CountByType() = %v", counts)
	}
	if !ledger.Interrupted() {
		t.Error("ledger without terminal event should be interrupted")
	}

	evt := AgentEvent(ledger.Events[2])
	if evt.ItemType != "agent_message" {
		t.Errorf("AgentEvent().ItemType = %q, want agent_message", evt.ItemType)
	}
}

func TestTerminalReturnsLast(t *testing.T) {
	path := writeLines(t,
		`{"type":"turn.completed","n":1}`,
		`{"type":"turn.failed","error":{"message":"boom"}}`,
		`{"type":"log","line":"trailing"}`,
	)

	ledger, err := ReadLedger(path)
	if err != nil {
		t.Fatalf("ReadLedger() error = %v", err)
	}
	term := ledger.Terminal()
	if term == nil || term.Type != protocol.EventTurnFailed {
		t.Fatalf("Terminal() = %+v, want turn.failed", term)
	}

	evt := AgentEvent(ledger.Events[2])
	if evt.Message != "trailing" {
		t.Errorf("AgentEvent().Message = %q, want trailing", evt.Message)
	}
}

func TestReadLedgerRejectsGarbage(t *testing.T) {
	path := writeLines(t, `{"type":"turn.started"}`, `not json`)

	if _, err := ReadLedger(path); err == nil {
		t.Fatal("expected error for non-JSON line")
	} else if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error should name the line: %v", err)
	}
}

func TestReadLedgerMissingFile(t *testing.T) {
	if _, err := ReadLedger(filepath.Join(t.TempDir(), "absent.ndjson")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
