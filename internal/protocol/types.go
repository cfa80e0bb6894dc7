package protocol

import (
	"time"
)

// Stage identifies one phase of the workflow
type Stage string

const (
	StageIntent             Stage = "INTENT"
	StageRequirements       Stage = "REQUIREMENTS"
	StageAcceptanceCriteria Stage = "ACCEPTANCE_CRITERIA"
	StageImpactAnalysis     Stage = "IMPACT_ANALYSIS"
	StageTasks              Stage = "TASKS"
	StageExecution          Stage = "EXECUTION"
	StageSummary            Stage = "SUMMARY"
)

// Stages lists every stage in workflow order
var Stages = []Stage{
	StageIntent,
	StageRequirements,
	StageAcceptanceCriteria,
	StageImpactAnalysis,
	StageTasks,
	StageExecution,
	StageSummary,
}

// IsValid reports whether s is a known stage
func (s Stage) IsValid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStage accepts either the enum value (ACCEPTANCE_CRITERIA) or the
// route slug form (acceptance-criteria).
func ParseStage(raw string) (Stage, bool) {
	normalized := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '-':
			c = '_'
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}
		normalized = append(normalized, c)
	}
	stage := Stage(normalized)
	return stage, stage.IsValid()
}

// Slug returns the lower-case, dash separated form used in routes
func (s Stage) Slug() string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_':
			c = '-'
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// RunStatus represents the lifecycle state of a Run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// TaskStatus represents the execution state of a Task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusSkipped   TaskStatus = "SKIPPED"
)

// IsValid reports whether s is a known task status
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// ImpactLevel grades the blast radius of a change
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "LOW"
	ImpactMedium ImpactLevel = "MEDIUM"
	ImpactHigh   ImpactLevel = "HIGH"
)

// IsValid reports whether l is a known impact level
func (l ImpactLevel) IsValid() bool {
	return l == ImpactLow || l == ImpactMedium || l == ImpactHigh
}

// Session is one workflow instance bound to a project directory.
// ThreadID is the agent conversation handle, set at most once per conversation.
type Session struct {
	ID           string    `json:"id"`
	Name         *string   `json:"name"`
	ProjectPath  string    `json:"projectPath"`
	ThreadID     *string   `json:"codexThreadId"`
	CurrentStage *Stage    `json:"currentStage"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Intent is the free-text change request for a session
type Intent struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Requirement is one requirement brief
type Requirement struct {
	SessionID    string    `json:"sessionId"`
	ReqID        string    `json:"reqId"`
	ShortName    string    `json:"shortName"`
	CurrentState string    `json:"currentState"`
	DesiredState string    `json:"desiredState"`
	Explanation  string    `json:"explanation"`
	Order        int       `json:"order"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AcceptanceCriterion is a Given/When/Then criterion for a requirement
type AcceptanceCriterion struct {
	SessionID        string    `json:"sessionId"`
	AcID             string    `json:"acId"`
	RequirementReqID string    `json:"requirementReqId"`
	Given            string    `json:"given"`
	When             string    `json:"when"`
	Then             string    `json:"then"`
	Rendered         string    `json:"rendered"`
	Order            int       `json:"order"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ImpactAnalysis is the single impact record of a session
type ImpactAnalysis struct {
	SessionID       string      `json:"sessionId"`
	ImpactID        string      `json:"impactId"`
	ImpactLevel     ImpactLevel `json:"impactLevel"`
	AffectedModules []string    `json:"affectedModules"`
	Explanation     string      `json:"explanation"`
	Risks           []string    `json:"risks,omitempty"`
	Assumptions     []string    `json:"assumptions,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Task is one implementation task produced by the TASKS stage
type Task struct {
	SessionID             string     `json:"sessionId"`
	TaskID                string     `json:"taskId"`
	ShortName             string     `json:"shortName"`
	Description           string     `json:"description"`
	RelatedRequirementIDs []string   `json:"relatedRequirementIds,omitempty"`
	Status                TaskStatus `json:"status"`
	Attempts              int        `json:"attempts"`
	LastError             *string    `json:"lastError"`
	ResultSummary         *string    `json:"resultSummary"`
	Order                 int        `json:"order"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Run is the durable record of one orchestration invocation
type Run struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Stage     Stage      `json:"stage"`
	Status    RunStatus  `json:"status"`
	StartedAt *time.Time `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	Error     *string    `json:"error"`
	TaskID    *string    `json:"taskId"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RunEvent is one persisted agent event, kept in arrival order
type RunEvent struct {
	ID      string         `json:"id"`
	RunID   string         `json:"runId"`
	Seq     int64          `json:"seq"`
	TS      time.Time      `json:"ts"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
