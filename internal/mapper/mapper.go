// Package mapper turns the agent's structured results into the artifact
// records each stage persists.
package mapper

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/ident"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// ErrMalformed is returned when a payload does not have the stage's shape
var ErrMalformed = errors.New("malformed structured output")

// Decode converts a raw payload into T. Every key in required must be
// present at the top level, otherwise the payload belongs to a different
// shape and ErrMalformed is returned.
func Decode[T any](raw map[string]any, required ...string) (T, error) {
	var out T
	if raw == nil {
		return out, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			return out, fmt.Errorf("%w: missing %q", ErrMalformed, key)
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

func idOr(id, prefix string, index int) string {
	if id != "" {
		return id
	}
	return ident.Sequential(prefix, index+1)
}

// Requirements maps a REQUIREMENTS result, ordered by generation index
func Requirements(res protocol.RequirementsResult) []protocol.Requirement {
	out := make([]protocol.Requirement, 0, len(res.Requirements))
	for i, item := range res.Requirements {
		out = append(out, protocol.Requirement{
			ReqID:        idOr(item.ID, ident.PrefixRequirement, i),
			ShortName:    item.ShortName,
			CurrentState: item.CurrentState,
			DesiredState: item.DesiredState,
			Explanation:  item.Explanation,
			Order:        i,
		})
	}
	return out
}

// Render produces the textual form of a criterion
func Render(given, when, then string) string {
	return "Given " + given + "\nWhen " + when + "\nThen " + then
}

// Acceptance maps an ACCEPTANCE_CRITERIA result
func Acceptance(res protocol.AcceptanceResult) []protocol.AcceptanceCriterion {
	out := make([]protocol.AcceptanceCriterion, 0, len(res.Criteria))
	for i, item := range res.Criteria {
		out = append(out, protocol.AcceptanceCriterion{
			AcID:             idOr(item.ID, ident.PrefixAcceptance, i),
			RequirementReqID: item.RequirementID,
			Given:            item.Given,
			When:             item.When,
			Then:             item.Then,
			Rendered:         Render(item.Given, item.When, item.Then),
			Order:            i,
		})
	}
	return out
}

// Impact maps an IMPACT_ANALYSIS result. There is only ever one impact
// record per session, so a generated id is always ia-0001.
func Impact(res protocol.ImpactResult) protocol.ImpactAnalysis {
	item := res.Impact
	modules := item.AffectedModules
	if modules == nil {
		modules = []string{}
	}
	return protocol.ImpactAnalysis{
		ImpactID:        idOr(item.ID, ident.PrefixImpact, 0),
		ImpactLevel:     item.ImpactLevel,
		AffectedModules: modules,
		Explanation:     item.Explanation,
		Risks:           item.Risks,
		Assumptions:     item.Assumptions,
	}
}

// Tasks maps a TASKS result. Status and attempts are reset regardless of
// what the agent returned.
func Tasks(res protocol.TasksResult) []protocol.Task {
	out := make([]protocol.Task, 0, len(res.Tasks))
	for i, item := range res.Tasks {
		out = append(out, protocol.Task{
			TaskID:                idOr(item.ID, ident.PrefixTask, i),
			ShortName:             item.ShortName,
			Description:           item.Description,
			RelatedRequirementIDs: item.RelatedRequirementIDs,
			Status:                protocol.TaskStatusPending,
			Attempts:              0,
			Order:                 i,
		})
	}
	return out
}

// Outcome is the normalized result of a task execution
type Outcome struct {
	Failed        bool
	ResultSummary string
	Error         string
}

// TaskOutcome normalizes an execution result. A missing status counts as
// success; error is only consulted for FAILED results.
func TaskOutcome(res protocol.TaskOutcome) Outcome {
	if res.Status != protocol.TaskStatusFailed {
		return Outcome{ResultSummary: res.ResultSummary}
	}
	errText := res.Error
	if errText == "" {
		errText = "task reported FAILED without an error message"
	}
	return Outcome{Failed: true, ResultSummary: res.ResultSummary, Error: errText}
}
