package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw   string
		want  Stage
		valid bool
	}{
		{"REQUIREMENTS", StageRequirements, true},
		{"requirements", StageRequirements, true},
		{"acceptance-criteria", StageAcceptanceCriteria, true},
		{"impact-analysis", StageImpactAnalysis, true},
		{"Tasks", StageTasks, true},
		{"deploy", Stage("DEPLOY"), false},
		{"", Stage(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseStage(tt.raw)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageSlugRoundTrip(t *testing.T) {
	t.Parallel()

	for _, stage := range Stages {
		parsed, ok := ParseStage(stage.Slug())
		require.True(t, ok, stage)
		assert.Equal(t, stage, parsed)
	}
	assert.Equal(t, "acceptance-criteria", StageAcceptanceCriteria.Slug())
}

func TestRunStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, RunStatusQueued.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.True(t, RunStatusSucceeded.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
}

func TestEventThreadID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		evt    Event
		wantID string
		wantOK bool
	}{
		{
			name:   "thread started",
			evt:    Event{Type: EventThreadStarted, Raw: map[string]any{"type": "thread.started", "thread_id": "th_1"}},
			wantID: "th_1",
			wantOK: true,
		},
		{
			name: "missing id",
			evt:  Event{Type: EventThreadStarted, Raw: map[string]any{"type": "thread.started"}},
		},
		{
			name: "non-string id",
			evt:  Event{Type: EventThreadStarted, Raw: map[string]any{"thread_id": 42}},
		},
		{
			name: "other event",
			evt:  Event{Type: EventTurnCompleted, Raw: map[string]any{"thread_id": "th_1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := tt.evt.ThreadID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestSinkEventJSONFieldNames(t *testing.T) {
	ts := time.Date(2025, 10, 19, 19, 0, 0, 0, time.UTC)
	evt := SinkEvent{
		SessionID: "s-1",
		RunID:     "r-1",
		Stage:     StageTasks,
		TS:        ts,
		Type:      EventItemCompleted,
		ItemType:  "agent_message",
		Raw:       map[string]any{"type": "item.completed"},
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	want := map[string]any{
		"sessionId": "s-1",
		"runId":     "r-1",
		"stage":     "TASKS",
		"ts":        "2025-10-19T19:00:00Z",
		"type":      "item.completed",
		"itemType":  "agent_message",
		"raw":       map[string]any{"type": "item.completed"},
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Errorf("sink event mismatch (-want +got):\n%s", diff)
	}
}
