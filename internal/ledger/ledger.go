// Package ledger reads run event logs back for replay and inspection.
package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bishoku/autopilot-codex/internal/ndjson"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// Ledger is a parsed event log in file order
type Ledger struct {
	Events []*protocol.RunEvent
}

// ReadLedger parses an NDJSON file. Lines written by the event mirror are
// taken as they are; any other JSON object line is treated as raw agent
// output, so a captured `codex exec --json` transcript can be replayed too.
func ReadLedger(path string) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	ledger := &Ledger{Events: make([]*protocol.RunEvent, 0)}

	decoder := ndjson.NewDecoderSize(file, slog.New(slog.NewTextHandler(io.Discard, nil)), ndjson.MaxAgentLineSize)
	for {
		line, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading ledger: %w", err)
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse entry: %w", decoder.Line(), err)
		}

		_, hasRun := probe["runId"]
		_, hasPayload := probe["payload"]
		if hasRun && hasPayload {
			var evt protocol.RunEvent
			if err := json.Unmarshal(line, &evt); err != nil {
				return nil, fmt.Errorf("line %d: failed to parse run event: %w", decoder.Line(), err)
			}
			ledger.Events = append(ledger.Events, &evt)
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse agent event: %w", decoder.Line(), err)
		}
		agentEvt := ndjson.EventFromRaw(raw, time.Time{})
		ledger.Events = append(ledger.Events, &protocol.RunEvent{
			Seq:     int64(len(ledger.Events) + 1),
			Type:    agentEvt.Type,
			Payload: raw,
		})
	}

	return ledger, nil
}

// ThreadID returns the conversation handle of the first thread.started event
func (l *Ledger) ThreadID() (string, bool) {
	for _, evt := range l.Events {
		if evt.Type != protocol.EventThreadStarted {
			continue
		}
		if id, ok := evt.Payload["thread_id"].(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// Terminal returns the last event that ends a turn, or nil when the log
// stops mid-turn
func (l *Ledger) Terminal() *protocol.RunEvent {
	var last *protocol.RunEvent
	for _, evt := range l.Events {
		if isTerminalEvent(evt.Type) {
			last = evt
		}
	}
	return last
}

// Interrupted reports whether the log has no terminal event
func (l *Ledger) Interrupted() bool {
	return l.Terminal() == nil
}

// CountByType tallies events per type
func (l *Ledger) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, evt := range l.Events {
		counts[evt.Type]++
	}
	return counts
}

// AgentEvent converts a logged event back into the agent event it came from
func AgentEvent(evt *protocol.RunEvent) protocol.Event {
	out := ndjson.EventFromRaw(evt.Payload, evt.TS)
	if evt.Type != "" {
		out.Type = evt.Type
	}
	if out.Message == "" {
		if line, ok := evt.Payload["line"].(string); ok {
			out.Message = line
		}
	}
	return out
}

func isTerminalEvent(eventType string) bool {
	switch eventType {
	case protocol.EventTurnCompleted,
		protocol.EventTurnFailed,
		protocol.EventError:
		return true
	default:
		return false
	}
}
