package protocol

import (
	"context"
	"time"
)

// Well-known agent event types
const (
	EventThreadStarted = "thread.started"
	EventTurnStarted   = "turn.started"
	EventTurnCompleted = "turn.completed"
	EventTurnFailed    = "turn.failed"
	EventItemStarted   = "item.started"
	EventItemUpdated   = "item.updated"
	EventItemCompleted = "item.completed"
	EventError         = "error"

	// Synthesized by the supervisor for lines that are not agent JSON
	EventLog    = "log"
	EventStderr = "stderr"
)

// Event is one element of the agent's ordered output stream
type Event struct {
	TS       time.Time      `json:"ts"`
	Type     string         `json:"type"`
	ItemType string         `json:"itemType,omitempty"`
	Message  string         `json:"message,omitempty"`
	Raw      map[string]any `json:"raw"`
}

// ThreadID returns the conversation handle carried by a thread.started event
func (e Event) ThreadID() (string, bool) {
	if e.Type != EventThreadStarted && e.Raw["type"] != EventThreadStarted {
		return "", false
	}
	id, ok := e.Raw["thread_id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// StreamRequest describes one agent invocation
type StreamRequest struct {
	ThreadID         string
	Prompt           string
	OutputSchema     map[string]any
	WorkingDirectory string
	FullAuto         bool
}

// SinkEvent is the live notification forwarded for every agent event
type SinkEvent struct {
	SessionID string         `json:"sessionId"`
	RunID     string         `json:"runId"`
	Stage     Stage          `json:"stage"`
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	ItemType  string         `json:"itemType,omitempty"`
	Message   string         `json:"message,omitempty"`
	Raw       map[string]any `json:"raw"`
}

// EventStream is one running agent invocation. Events is closed when the
// agent exits; Err is only meaningful after that.
type EventStream interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Streamer opens agent invocations
type Streamer interface {
	RunStreamed(ctx context.Context, req StreamRequest) (EventStream, error)
}
