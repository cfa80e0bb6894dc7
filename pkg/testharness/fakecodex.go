package testharness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bishoku/autopilot-codex/internal/agent/script"
	"github.com/bishoku/autopilot-codex/internal/ndjson"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// FakeCodex is an in-process protocol.Streamer. Each invocation plays a
// script.Script the way the mockcodex binary would, without a process.
type FakeCodex struct {
	// Script, when set, is played for every invocation. Otherwise a
	// conversation is generated from the request's output schema.
	Script *script.Script
	// Reply overrides the generated structured reply for one schema key
	// ("requirements", "criteria", "impact", "tasks") or "" for task runs.
	Reply map[string]map[string]any
	// StepDelay is added before every step
	StepDelay time.Duration

	mu       sync.Mutex
	requests []protocol.StreamRequest
}

// NewFakeCodex creates a fake that answers every schema with a sample reply
func NewFakeCodex() *FakeCodex {
	return &FakeCodex{Reply: make(map[string]map[string]any)}
}

// Requests returns the invocations seen so far
func (f *FakeCodex) Requests() []protocol.StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.StreamRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// RunStreamed plays the script for req
func (f *FakeCodex) RunStreamed(ctx context.Context, req protocol.StreamRequest) (protocol.EventStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	s, err := f.scriptFor(req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	st := &fakeStream{
		events: make(chan protocol.Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go st.play(runCtx, s, f.StepDelay)
	return st, nil
}

func (f *FakeCodex) scriptFor(req protocol.StreamRequest) (*script.Script, error) {
	if f.Script != nil {
		return f.Script, nil
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "thread-" + uuid.New().String()
	}

	reply := script.SampleReply(req.OutputSchema)
	if override, ok := f.Reply[replyKey(req.OutputSchema)]; ok {
		reply = override
	}
	return script.Conversation(threadID, req.ThreadID != "", reply)
}

func replyKey(schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"requirements", "criteria", "impact", "tasks"} {
		if _, ok := props[key]; ok {
			return key
		}
	}
	return ""
}

type fakeStream struct {
	events chan protocol.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *fakeStream) Events() <-chan protocol.Event { return s.events }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *fakeStream) play(ctx context.Context, sc *script.Script, delay time.Duration) {
	defer close(s.done)
	defer close(s.events)

	for _, step := range sc.Steps {
		wait := delay + time.Duration(step.DelayMs)*time.Millisecond
		if wait > 0 && !sleep(ctx, wait) {
			s.setErr(fmt.Errorf("codex run interrupted: %w", ctx.Err()))
			return
		}

		var evt protocol.Event
		switch {
		case step.Event != nil:
			evt = ndjson.EventFromRaw(step.Event, time.Now().UTC())
		case step.Stderr != "":
			evt = ndjson.LineEvent(protocol.EventStderr, step.Stderr, time.Now().UTC())
		default:
			evt = ndjson.LineEvent(protocol.EventLog, step.Line, time.Now().UTC())
		}

		select {
		case s.events <- evt:
		case <-ctx.Done():
			s.setErr(fmt.Errorf("codex run interrupted: %w", ctx.Err()))
			return
		}
	}

	if sc.HoldMs > 0 && !sleep(ctx, time.Duration(sc.HoldMs)*time.Millisecond) {
		s.setErr(fmt.Errorf("codex run interrupted: %w", ctx.Err()))
		return
	}
	if sc.ExitCode != 0 {
		s.setErr(fmt.Errorf("codex exited with error: code %d", sc.ExitCode))
	}
}

func (s *fakeStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
