// Package script describes scripted conversations replayed by the mock
// codex binary in tests and smoke runs.
package script

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bishoku/autopilot-codex/internal/fsutil"
)

// Script is an ordered list of output steps followed by a process exit
type Script struct {
	Steps []Step `json:"steps"`
	// ExitCode is the status the process exits with after the last step
	ExitCode int `json:"exit_code,omitempty"`
	// HoldMs keeps the process alive after the last step
	HoldMs int `json:"hold_ms,omitempty"`
}

// Step emits exactly one of Event, Line or Stderr
type Step struct {
	Event   map[string]any `json:"event,omitempty"`
	Line    string         `json:"line,omitempty"`
	Stderr  string         `json:"stderr,omitempty"`
	DelayMs int            `json:"delay_ms,omitempty"`
}

// Load reads a script from the provided path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse script JSON: %w", err)
	}

	if len(script.Steps) == 0 && script.ExitCode == 0 && script.HoldMs == 0 {
		return nil, fmt.Errorf("script has no steps defined")
	}

	return &script, nil
}

// Save writes the script atomically
func (s *Script) Save(path string) error {
	return fsutil.AtomicWriteJSON(path, s)
}

// Conversation builds the usual codex event sequence around a final
// structured reply. A thread.started event is only emitted for new threads.
func Conversation(threadID string, resumed bool, reply map[string]any) (*Script, error) {
	text, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}

	var steps []Step
	if !resumed {
		steps = append(steps, Step{Event: map[string]any{"type": "thread.started", "thread_id": threadID}})
	}
	steps = append(steps,
		Step{Event: map[string]any{"type": "turn.started"}},
		Step{Event: map[string]any{
			"type": "item.completed",
			"item": map[string]any{"id": "item_0", "type": "reasoning", "text": "Planning the change"},
		}},
		Step{Event: map[string]any{
			"type": "item.completed",
			"item": map[string]any{"id": "item_1", "type": "agent_message", "text": string(text)},
		}},
		Step{Event: map[string]any{
			"type":  "turn.completed",
			"usage": map[string]any{"input_tokens": 1200, "cached_input_tokens": 0, "output_tokens": 300},
		}},
	)
	return &Script{Steps: steps}, nil
}

// SampleReply returns a plausible structured reply for an output schema,
// chosen by the schema's top-level properties.
func SampleReply(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	switch {
	case has(props, "requirements"):
		return map[string]any{"requirements": []any{
			map[string]any{
				"shortName":    "Login",
				"currentState": "No auth",
				"desiredState": "Users can log in",
				"explanation":  "Add auth",
			},
		}}
	case has(props, "criteria"):
		return map[string]any{"criteria": []any{
			map[string]any{
				"requirementId": "req-0001",
				"given":         "a registered user",
				"when":          "they submit valid credentials",
				"then":          "they are signed in",
			},
		}}
	case has(props, "impact"):
		return map[string]any{"impact": map[string]any{
			"impactLevel":     "MEDIUM",
			"affectedModules": []any{"auth"},
			"explanation":     "Adds a login flow",
			"risks":           []any{"session handling"},
		}}
	case has(props, "tasks"):
		return map[string]any{"tasks": []any{
			map[string]any{
				"shortName":             "Add login endpoint",
				"description":           "Implement POST /login",
				"relatedRequirementIds": []any{"req-0001"},
			},
		}}
	default:
		return map[string]any{"status": "SUCCEEDED", "resultSummary": "Applied the change"}
	}
}

func has(props map[string]any, key string) bool {
	_, ok := props[key]
	return ok
}
