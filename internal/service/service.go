// Package service holds the application operations shared by the HTTP API,
// the CLI and the MCP tools: sessions, stage generation, task execution,
// artifact editing and export.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/store"
)

var (
	// ErrNotFound is returned for a missing session, artifact or run
	ErrNotFound = store.ErrNotFound
	// ErrConflict is returned when a created artifact id is already taken
	ErrConflict = store.ErrConflict
	// ErrInvalid is returned for malformed input
	ErrInvalid = errors.New("invalid request")
	// ErrNoUpdates is returned for a partial update that changes nothing
	ErrNoUpdates = errors.New("No updates")
)

// InterruptedMessage is the error recorded on runs orphaned by a restart
const InterruptedMessage = "interrupted: server restarted"

// Runner executes one invocation against an existing QUEUED Run
type Runner interface {
	GenerateStage(ctx context.Context, runID, sessionID string, stage protocol.Stage) error
	ExecuteTask(ctx context.Context, runID, sessionID, taskID, extraPrompt string) error
}

// Service implements the application operations
type Service struct {
	db     *store.DB
	runner Runner
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service. runner may be nil for read-only callers; the
// generation and execution operations then fail.
func New(db *store.DB, runner Runner, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		runner: runner,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Reconcile marks runs left QUEUED or RUNNING by a previous process as
// FAILED. It must run before any invocation starts.
func (s *Service) Reconcile(ctx context.Context) (int64, error) {
	n, err := s.db.FailInterrupted(ctx, InterruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("marked interrupted runs as failed", "count", n)
	}
	return n, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (s *Service) requireSession(ctx context.Context, id string) (*protocol.Session, error) {
	sess, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, notFound("session", id)
	}
	return sess, nil
}

func (s *Service) requireRunner() error {
	if s.runner == nil {
		return errors.New("no agent runner configured")
	}
	return nil
}
