package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// resultKeys mark an item object that carries a structured result directly
var resultKeys = []string{"requirements", "criteria", "impact", "tasks", "status", "resultSummary"}

// decodeFunc turns a candidate payload into a typed result
type decodeFunc func(raw map[string]any) (Result, error)

// processor handles the events of one invocation, in arrival order
type processor struct {
	orch      *Orchestrator
	runID     string
	sessionID string
	stage     protocol.Stage
	decode    decodeFunc
	logger    *slog.Logger

	threadKnown bool
	result      Result
	events      int
}

func (o *Orchestrator) newProcessor(runID string, session *protocol.Session, stage protocol.Stage, decode decodeFunc) *processor {
	return &processor{
		orch:        o,
		runID:       runID,
		sessionID:   session.ID,
		stage:       stage,
		decode:      decode,
		threadKnown: protocol.Deref(session.ThreadID) != "",
		logger:      o.logger.With("session_id", session.ID, "run_id", runID, "stage", stage),
	}
}

// persist appends the event to the run's durable record
func (p *processor) persist(ctx context.Context, evt protocol.Event) error {
	rec := &protocol.RunEvent{
		RunID:   p.runID,
		TS:      evt.TS,
		Type:    evt.Type,
		Payload: evt.Raw,
	}
	if err := p.orch.store.AppendEvent(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist run event: %w", err)
	}
	p.events++

	if p.orch.eventLog != nil {
		if err := p.orch.eventLog.Append(rec); err != nil {
			p.logger.Warn("failed to mirror run event", "event_type", evt.Type, "error", err)
		}
	}
	return nil
}

// detectThread returns a newly started conversation handle. Only the first
// handle-bearing event of a session without a handle is reported.
func (p *processor) detectThread(evt protocol.Event) (string, bool) {
	if p.threadKnown {
		return "", false
	}
	id, ok := evt.ThreadID()
	if !ok {
		return "", false
	}
	p.threadKnown = true
	return id, true
}

// publish forwards the event to the live sink and the console handler
func (p *processor) publish(evt protocol.Event) {
	out := protocol.SinkEvent{
		SessionID: p.sessionID,
		RunID:     p.runID,
		Stage:     p.stage,
		TS:        evt.TS,
		Type:      evt.Type,
		ItemType:  evt.ItemType,
		Message:   evt.Message,
		Raw:       evt.Raw,
	}
	if p.orch.sink != nil {
		p.orch.sink.Publish(p.sessionID, out)
	}
	if p.orch.onEvent != nil {
		p.orch.onEvent(out)
	}
}

// extract records the event's structured payload, if any, as the current
// candidate result. Payloads that do not parse are logged and skipped.
func (p *processor) extract(evt protocol.Event) {
	raw, ok, err := candidate(evt)
	if err != nil {
		p.logger.Warn("structured output parse failure", "event_type", evt.Type, "error", err)
		return
	}
	if !ok {
		return
	}

	res, err := p.decode(raw)
	if err != nil {
		p.logger.Warn("structured output parse failure", "event_type", evt.Type, "error", err)
		return
	}
	p.result = res
}

// candidate finds a structured payload in an event
func candidate(evt protocol.Event) (map[string]any, bool, error) {
	switch evt.Type {
	case protocol.EventItemCompleted:
		item, ok := evt.Raw["item"].(map[string]any)
		if !ok {
			return nil, false, nil
		}
		if text, ok := item["text"].(string); ok {
			itemType, _ := item["type"].(string)
			if itemType != "" && itemType != "agent_message" {
				return nil, false, nil
			}
			obj, err := parseObject(text)
			return obj, err == nil, err
		}
		for _, key := range resultKeys {
			if _, ok := item[key]; ok {
				return item, true, nil
			}
		}
	case protocol.EventTurnCompleted:
		switch out := evt.Raw["output"].(type) {
		case map[string]any:
			return out, true, nil
		case string:
			obj, err := parseObject(out)
			return obj, err == nil, err
		}
	}
	return nil, false, nil
}

func parseObject(text string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("structured output is %T, not an object", v)
	}
	return obj, nil
}

func (p *processor) stamp(evt protocol.Event) protocol.Event {
	if evt.TS.IsZero() {
		evt.TS = p.orch.now()
	}
	if evt.Raw == nil {
		evt.Raw = map[string]any{}
	}
	return evt
}

// consume drains the stream. Each event is persisted, checked for a new
// conversation handle, published and inspected for a result before the
// next one is read.
func (o *Orchestrator) consume(ctx context.Context, p *processor, stream protocol.EventStream) error {
	for {
		var (
			evt protocol.Event
			ok  bool
		)
		select {
		case evt, ok = <-stream.Events():
		case <-ctx.Done():
			stream.Close()
			return streamError(ctx, ctx.Err())
		}
		if !ok {
			break
		}
		evt = p.stamp(evt)

		// An event already read is recorded even if ctx is cancelled meanwhile
		if err := p.persist(context.WithoutCancel(ctx), evt); err != nil {
			return err
		}
		if threadID, discovered := p.detectThread(evt); discovered {
			if err := o.store.UpdateSession(context.WithoutCancel(ctx), p.sessionID, protocol.SessionPatch{ThreadID: &threadID}); err != nil {
				return fmt.Errorf("failed to save conversation handle: %w", err)
			}
			p.logger.Info("conversation started", "thread_id", threadID)
		}
		p.publish(evt)
		p.extract(evt)
	}

	if err := stream.Err(); err != nil {
		return streamError(ctx, err)
	}
	p.logger.Debug("codex stream finished", "events", p.events)
	return nil
}
