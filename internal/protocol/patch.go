package protocol

import "time"

// Partial updates. A nil field is left unchanged.

// RunPatch updates a Run
type RunPatch struct {
	Status    *RunStatus
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     *string
}

// SessionPatch updates a Session
type SessionPatch struct {
	Name         *string
	ProjectPath  *string
	ThreadID     *string
	CurrentStage *Stage
}

// RequirementPatch updates a Requirement
type RequirementPatch struct {
	ShortName    *string `json:"shortName"`
	CurrentState *string `json:"currentState"`
	DesiredState *string `json:"desiredState"`
	Explanation  *string `json:"explanation"`
	Order        *int    `json:"order"`
}

// IsEmpty reports whether the patch changes nothing
func (p RequirementPatch) IsEmpty() bool {
	return p.ShortName == nil && p.CurrentState == nil && p.DesiredState == nil &&
		p.Explanation == nil && p.Order == nil
}

// CriterionPatch updates an AcceptanceCriterion. Rendered is recomputed
// by the store whenever any of Given, When or Then changes.
type CriterionPatch struct {
	RequirementReqID *string `json:"requirementReqId"`
	Given            *string `json:"given"`
	When             *string `json:"when"`
	Then             *string `json:"then"`
	Order            *int    `json:"order"`
}

// IsEmpty reports whether the patch changes nothing
func (p CriterionPatch) IsEmpty() bool {
	return p.RequirementReqID == nil && p.Given == nil && p.When == nil && p.Then == nil && p.Order == nil
}

// TaskPatch updates a Task. ClearLastError resets lastError to null and
// takes precedence over LastError.
type TaskPatch struct {
	ShortName             *string     `json:"shortName"`
	Description           *string     `json:"description"`
	RelatedRequirementIDs *[]string   `json:"relatedRequirementIds"`
	Status                *TaskStatus `json:"status"`
	Attempts              *int        `json:"attempts"`
	LastError             *string     `json:"lastError"`
	ResultSummary         *string     `json:"resultSummary"`
	Order                 *int        `json:"order"`
	ClearLastError        bool        `json:"-"`
}

// IsEmpty reports whether the patch changes nothing
func (p TaskPatch) IsEmpty() bool {
	return p.ShortName == nil && p.Description == nil && p.RelatedRequirementIDs == nil &&
		p.Status == nil && p.Attempts == nil && p.LastError == nil && p.ResultSummary == nil &&
		p.Order == nil && !p.ClearLastError
}
