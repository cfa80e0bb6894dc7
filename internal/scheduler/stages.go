package scheduler

import (
	"context"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/mapper"
	"github.com/bishoku/autopilot-codex/internal/prompt"
	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/schema"
)

// GenerativeStages are the stages produced by GenerateStage, in workflow order
var GenerativeStages = []protocol.Stage{
	protocol.StageRequirements,
	protocol.StageAcceptanceCriteria,
	protocol.StageImpactAnalysis,
	protocol.StageTasks,
}

// Result is a decoded structured output ready to be persisted
type Result interface {
	Persist(ctx context.Context, st Store, sessionID string) error
}

// StageHandler binds a stage to its prompt, output schema, decoder and
// persistence.
type StageHandler interface {
	Prompt(ctx context.Context, st Store, sessionID string) (string, error)
	Schema() (map[string]any, error)
	Decode(raw map[string]any) (Result, error)
}

type stageHandler[T any] struct {
	key      string
	prompt   func(ctx context.Context, st Store, sessionID string) (string, error)
	validate func(T) error
	persist  func(ctx context.Context, st Store, sessionID string, res T) error
}

func (h stageHandler[T]) Prompt(ctx context.Context, st Store, sessionID string) (string, error) {
	return h.prompt(ctx, st, sessionID)
}

func (h stageHandler[T]) Schema() (map[string]any, error) {
	var zero T
	return schema.For(zero)
}

func (h stageHandler[T]) Decode(raw map[string]any) (Result, error) {
	res, err := mapper.Decode[T](raw, h.key)
	if err != nil {
		return nil, err
	}
	if h.validate != nil {
		if err := h.validate(res); err != nil {
			return nil, fmt.Errorf("%w: %v", mapper.ErrMalformed, err)
		}
	}
	return boundResult[T]{value: res, persist: h.persist}, nil
}

type boundResult[T any] struct {
	value   T
	persist func(ctx context.Context, st Store, sessionID string, res T) error
}

func (r boundResult[T]) Persist(ctx context.Context, st Store, sessionID string) error {
	return r.persist(ctx, st, sessionID, r.value)
}

var requirementsHandler = stageHandler[protocol.RequirementsResult]{
	key: "requirements",
	prompt: func(ctx context.Context, st Store, sessionID string) (string, error) {
		intent, err := st.GetIntent(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return prompt.Requirements(intent), nil
	},
	persist: func(ctx context.Context, st Store, sessionID string, res protocol.RequirementsResult) error {
		return st.ReplaceRequirements(ctx, sessionID, mapper.Requirements(res))
	},
}

var acceptanceHandler = stageHandler[protocol.AcceptanceResult]{
	key: "criteria",
	prompt: func(ctx context.Context, st Store, sessionID string) (string, error) {
		reqs, err := st.ListRequirements(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return prompt.AcceptanceCriteria(reqs), nil
	},
	persist: func(ctx context.Context, st Store, sessionID string, res protocol.AcceptanceResult) error {
		return st.ReplaceCriteria(ctx, sessionID, mapper.Acceptance(res))
	},
}

var impactHandler = stageHandler[protocol.ImpactResult]{
	key: "impact",
	prompt: func(ctx context.Context, st Store, sessionID string) (string, error) {
		intent, err := st.GetIntent(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return prompt.ImpactAnalysis(intent), nil
	},
	validate: func(res protocol.ImpactResult) error {
		if !res.Impact.ImpactLevel.IsValid() {
			return fmt.Errorf("invalid impact level %q", res.Impact.ImpactLevel)
		}
		return nil
	},
	persist: func(ctx context.Context, st Store, sessionID string, res protocol.ImpactResult) error {
		ia := mapper.Impact(res)
		return st.UpsertImpact(ctx, sessionID, &ia)
	},
}

var tasksHandler = stageHandler[protocol.TasksResult]{
	key: "tasks",
	prompt: func(ctx context.Context, st Store, sessionID string) (string, error) {
		reqs, err := st.ListRequirements(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return prompt.Tasks(reqs), nil
	},
	persist: func(ctx context.Context, st Store, sessionID string, res protocol.TasksResult) error {
		return st.ReplaceTasks(ctx, sessionID, mapper.Tasks(res))
	},
}

// HandlerFor returns the handler of a generative stage. Every Stage value
// has a case; stages without generation fall through to ErrUnsupportedStage.
func HandlerFor(stage protocol.Stage) (StageHandler, error) {
	switch stage {
	case protocol.StageRequirements:
		return requirementsHandler, nil
	case protocol.StageAcceptanceCriteria:
		return acceptanceHandler, nil
	case protocol.StageImpactAnalysis:
		return impactHandler, nil
	case protocol.StageTasks:
		return tasksHandler, nil
	case protocol.StageIntent, protocol.StageExecution, protocol.StageSummary:
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedStage, stage)
}

// taskOutcome is the decoded result of a task execution
type taskOutcome struct {
	mapper.Outcome
}

func (taskOutcome) Persist(context.Context, Store, string) error { return nil }

// decodeTaskOutcome accepts any object carrying a status or a result
// summary. A missing status counts as success.
func decodeTaskOutcome(raw map[string]any) (Result, error) {
	_, hasStatus := raw["status"]
	_, hasSummary := raw["resultSummary"]
	if !hasStatus && !hasSummary {
		return nil, fmt.Errorf("%w: missing \"status\" and \"resultSummary\"", mapper.ErrMalformed)
	}
	res, err := mapper.Decode[protocol.TaskOutcome](raw)
	if err != nil {
		return nil, err
	}
	if res.Status != "" && res.Status != protocol.TaskStatusSucceeded && res.Status != protocol.TaskStatusFailed {
		return nil, fmt.Errorf("%w: invalid status %q", mapper.ErrMalformed, res.Status)
	}
	return taskOutcome{mapper.TaskOutcome(res)}, nil
}

func taskSchema() (map[string]any, error) {
	return schema.For(protocol.TaskOutcome{})
}
