package service

import (
	"context"
	"strings"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// ListRequirements returns the session's requirements in order
func (s *Service) ListRequirements(ctx context.Context, sessionID string) ([]protocol.Requirement, error) {
	return s.db.ListRequirements(ctx, sessionID)
}

// CreateRequirement adds one requirement to a session
func (s *Service) CreateRequirement(ctx context.Context, sessionID string, r *protocol.Requirement) (*protocol.Requirement, error) {
	if strings.TrimSpace(r.ReqID) == "" {
		return nil, invalid("reqId is required")
	}
	if err := s.db.CreateRequirement(ctx, sessionID, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRequirement applies a partial update and returns the result
func (s *Service) UpdateRequirement(ctx context.Context, sessionID, reqID string, patch protocol.RequirementPatch) (*protocol.Requirement, error) {
	if patch.IsEmpty() {
		return nil, ErrNoUpdates
	}
	if err := s.db.UpdateRequirement(ctx, sessionID, reqID, patch); err != nil {
		return nil, err
	}
	r, err := s.db.GetRequirement(ctx, sessionID, reqID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, notFound("requirement", reqID)
	}
	return r, nil
}

// DeleteRequirement removes one requirement
func (s *Service) DeleteRequirement(ctx context.Context, sessionID, reqID string) error {
	return s.db.DeleteRequirement(ctx, sessionID, reqID)
}

// ListCriteria returns the session's acceptance criteria in order
func (s *Service) ListCriteria(ctx context.Context, sessionID string) ([]protocol.AcceptanceCriterion, error) {
	return s.db.ListCriteria(ctx, sessionID)
}

// CreateCriterion adds one acceptance criterion. Rendered is derived from
// the clauses when omitted.
func (s *Service) CreateCriterion(ctx context.Context, sessionID string, c *protocol.AcceptanceCriterion) (*protocol.AcceptanceCriterion, error) {
	if strings.TrimSpace(c.AcID) == "" {
		return nil, invalid("acId is required")
	}
	if err := s.db.CreateCriterion(ctx, sessionID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCriterion applies a partial update and returns the result
func (s *Service) UpdateCriterion(ctx context.Context, sessionID, acID string, patch protocol.CriterionPatch) (*protocol.AcceptanceCriterion, error) {
	if patch.IsEmpty() {
		return nil, ErrNoUpdates
	}
	if err := s.db.UpdateCriterion(ctx, sessionID, acID, patch); err != nil {
		return nil, err
	}
	c, err := s.db.GetCriterion(ctx, sessionID, acID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("acceptance criterion", acID)
	}
	return c, nil
}

// DeleteCriterion removes one acceptance criterion
func (s *Service) DeleteCriterion(ctx context.Context, sessionID, acID string) error {
	return s.db.DeleteCriterion(ctx, sessionID, acID)
}

// GetImpact returns the session's impact analysis
func (s *Service) GetImpact(ctx context.Context, sessionID string) (*protocol.ImpactAnalysis, error) {
	ia, err := s.db.GetImpact(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ia == nil {
		return nil, notFound("impact analysis for session", sessionID)
	}
	return ia, nil
}

// UpsertImpact creates or replaces the session's impact analysis
func (s *Service) UpsertImpact(ctx context.Context, sessionID string, ia *protocol.ImpactAnalysis) (*protocol.ImpactAnalysis, error) {
	if strings.TrimSpace(ia.ImpactID) == "" {
		return nil, invalid("impactId is required")
	}
	if !ia.ImpactLevel.IsValid() {
		return nil, invalid("impactLevel must be LOW, MEDIUM or HIGH")
	}
	if ia.AffectedModules == nil {
		ia.AffectedModules = []string{}
	}
	if err := s.db.UpsertImpact(ctx, sessionID, ia); err != nil {
		return nil, err
	}
	return ia, nil
}

// ListTasks returns the session's tasks in order
func (s *Service) ListTasks(ctx context.Context, sessionID string) ([]protocol.Task, error) {
	return s.db.ListTasks(ctx, sessionID)
}

// CreateTask adds one task. Status defaults to PENDING and attempts to 0.
func (s *Service) CreateTask(ctx context.Context, sessionID string, t *protocol.Task) (*protocol.Task, error) {
	if strings.TrimSpace(t.TaskID) == "" {
		return nil, invalid("taskId is required")
	}
	if t.Status == "" {
		t.Status = protocol.TaskStatusPending
	}
	if !t.Status.IsValid() {
		return nil, invalid("unknown task status %q", t.Status)
	}
	if t.Attempts < 0 {
		return nil, invalid("attempts must not be negative")
	}
	if err := s.db.CreateTask(ctx, sessionID, t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTask applies a partial update and returns the result
func (s *Service) UpdateTask(ctx context.Context, sessionID, taskID string, patch protocol.TaskPatch) (*protocol.Task, error) {
	if patch.IsEmpty() {
		return nil, ErrNoUpdates
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, invalid("unknown task status %q", *patch.Status)
	}
	if err := s.db.UpdateTask(ctx, sessionID, taskID, patch); err != nil {
		return nil, err
	}
	t, err := s.db.GetTask(ctx, sessionID, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFound("task", taskID)
	}
	return t, nil
}

// DeleteTask removes one task
func (s *Service) DeleteTask(ctx context.Context, sessionID, taskID string) error {
	return s.db.DeleteTask(ctx, sessionID, taskID)
}
