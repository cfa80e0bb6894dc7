// Package eventlog mirrors persisted run events to one NDJSON file per run.
package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bishoku/autopilot-codex/internal/ndjson"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// EventLog writes run events to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewEventLog opens logPath for appending, creating it if needed
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		file:    file,
		encoder: ndjson.NewEncoderSize(file, logger, ndjson.MaxAgentLineSize),
		logger:  logger,
	}, nil
}

// WriteEvent appends one event
func (l *EventLog) WriteEvent(evt *protocol.RunEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(evt)
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Mirror routes events to <dir>/<runId>.ndjson
type Mirror struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewMirror creates the mirror directory
func NewMirror(dir string, logger *slog.Logger) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	return &Mirror{dir: dir, logger: logger}, nil
}

// Path returns the mirror file of a run
func (m *Mirror) Path(runID string) string {
	return filepath.Join(m.dir, runID+".ndjson")
}

// Append writes evt to its run's file. Files are reopened per event so a
// long-lived server never holds handles for finished runs.
func (m *Mirror) Append(evt *protocol.RunEvent) error {
	if evt.RunID == "" {
		return fmt.Errorf("event %s has no run id", evt.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := NewEventLog(m.Path(evt.RunID), m.logger)
	if err != nil {
		return err
	}
	if err := l.WriteEvent(evt); err != nil {
		l.Close()
		return err
	}
	return l.Close()
}
