package protocol

// Structured results the agent returns, one shape per stage. The json
// tags double as the output schema property names.

// RequirementItem is one requirement as emitted by the agent
type RequirementItem struct {
	ID           string `json:"id,omitempty"`
	ShortName    string `json:"shortName"`
	CurrentState string `json:"currentState"`
	DesiredState string `json:"desiredState"`
	Explanation  string `json:"explanation"`
}

// RequirementsResult is the REQUIREMENTS stage output
type RequirementsResult struct {
	Requirements []RequirementItem `json:"requirements"`
}

// CriterionItem is one acceptance criterion as emitted by the agent
type CriterionItem struct {
	ID            string `json:"id,omitempty"`
	RequirementID string `json:"requirementId"`
	Given         string `json:"given"`
	When          string `json:"when"`
	Then          string `json:"then"`
}

// AcceptanceResult is the ACCEPTANCE_CRITERIA stage output
type AcceptanceResult struct {
	Criteria []CriterionItem `json:"criteria"`
}

// ImpactItem is the impact analysis as emitted by the agent
type ImpactItem struct {
	ID              string      `json:"id,omitempty"`
	ImpactLevel     ImpactLevel `json:"impactLevel" jsonschema:"enum=LOW,enum=MEDIUM,enum=HIGH"`
	AffectedModules []string    `json:"affectedModules"`
	Explanation     string      `json:"explanation"`
	Risks           []string    `json:"risks,omitempty"`
	Assumptions     []string    `json:"assumptions,omitempty"`
}

// ImpactResult is the IMPACT_ANALYSIS stage output
type ImpactResult struct {
	Impact ImpactItem `json:"impact"`
}

// TaskItem is one task as emitted by the agent
type TaskItem struct {
	ID                    string   `json:"id,omitempty"`
	ShortName             string   `json:"shortName"`
	Description           string   `json:"description"`
	RelatedRequirementIDs []string `json:"relatedRequirementIds,omitempty"`
}

// TasksResult is the TASKS stage output
type TasksResult struct {
	Tasks []TaskItem `json:"tasks"`
}

// TaskOutcome is the result of executing one task
type TaskOutcome struct {
	Status        TaskStatus `json:"status" jsonschema:"enum=SUCCEEDED,enum=FAILED"`
	ResultSummary string     `json:"resultSummary"`
	Error         string     `json:"error,omitempty"`
}
