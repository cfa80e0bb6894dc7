package service

import (
	"context"
	"strings"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// CreateSessionInput is the body of a session create request
type CreateSessionInput struct {
	ProjectPath string  `json:"projectPath"`
	Name        *string `json:"name,omitempty"`
}

// UpdateSessionInput is the body of a session update request
type UpdateSessionInput struct {
	Name        *string `json:"name,omitempty"`
	ProjectPath *string `json:"projectPath,omitempty"`
}

// CreateSession creates a session bound to a project directory
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*protocol.Session, error) {
	if strings.TrimSpace(in.ProjectPath) == "" {
		return nil, invalid("projectPath is required")
	}

	sess := &protocol.Session{ProjectPath: in.ProjectPath, Name: in.Name}
	if err := s.db.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("session created", "session_id", sess.ID, "project_path", sess.ProjectPath)
	return sess, nil
}

// ListSessions returns all sessions, newest first
func (s *Service) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	return s.db.ListSessions(ctx)
}

// GetSession returns one session
func (s *Service) GetSession(ctx context.Context, id string) (*protocol.Session, error) {
	return s.requireSession(ctx, id)
}

// UpdateSession renames a session or moves its project path
func (s *Service) UpdateSession(ctx context.Context, id string, in UpdateSessionInput) (*protocol.Session, error) {
	if in.ProjectPath != nil && strings.TrimSpace(*in.ProjectPath) == "" {
		return nil, invalid("projectPath must not be empty")
	}
	if err := s.db.UpdateSession(ctx, id, protocol.SessionPatch{Name: in.Name, ProjectPath: in.ProjectPath}); err != nil {
		return nil, err
	}
	return s.requireSession(ctx, id)
}

// SetIntent stores the session's intent and moves it to the INTENT stage
func (s *Service) SetIntent(ctx context.Context, sessionID, text string) (*protocol.Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("intentText is required")
	}
	if _, err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}

	intent, err := s.db.UpsertIntent(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}
	stage := protocol.StageIntent
	if err := s.db.UpdateSession(ctx, sessionID, protocol.SessionPatch{CurrentStage: &stage}); err != nil {
		return nil, err
	}
	return intent, nil
}

// GetIntent returns the session's intent
func (s *Service) GetIntent(ctx context.Context, sessionID string) (*protocol.Intent, error) {
	intent, err := s.db.GetIntent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, notFound("intent for session", sessionID)
	}
	return intent, nil
}
