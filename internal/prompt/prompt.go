// Package prompt renders the instructions sent to the agent for each stage
// and for task execution.
package prompt

import (
	"strings"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// Requirements asks for requirement briefs derived from the intent
func Requirements(intent *protocol.Intent) string {
	return "You are a product analyst. Use the intent to produce requirement briefs.\n\nIntent:\n" + intentText(intent)
}

// AcceptanceCriteria asks for Gherkin criteria per requirement
func AcceptanceCriteria(reqs []protocol.Requirement) string {
	return "Generate Gherkin acceptance criteria for each requirement.\n\nRequirements:\n" + requirementList(reqs)
}

// ImpactAnalysis asks the agent to inspect the project for impacted modules
func ImpactAnalysis(intent *protocol.Intent) string {
	return "Inspect the repository and identify impacted modules. Provide impact level, explanation, and risks.\n\nIntent:\n" + intentText(intent)
}

// Tasks asks for implementation tasks mapped to requirements
func Tasks(reqs []protocol.Requirement) string {
	return "Generate implementation tasks mapped to requirements.\n\nRequirements:\n" + requirementList(reqs)
}

// Task builds the execution prompt for one task. extra is appended as
// additional instructions when non-empty (used by retries).
func Task(task *protocol.Task, extra string) string {
	var b strings.Builder
	b.WriteString("Execute the following task in the repository. Make code changes, run relevant tests if available, and summarize the results.\n\n")
	b.WriteString("Task ")
	b.WriteString(task.TaskID)
	b.WriteString(": ")
	b.WriteString(task.ShortName)
	b.WriteString("\n")
	b.WriteString(task.Description)
	if extra != "" {
		b.WriteString("\n\nExtra instructions:\n")
		b.WriteString(extra)
	}
	return b.String()
}

func intentText(intent *protocol.Intent) string {
	if intent == nil {
		return ""
	}
	return intent.Text
}

func requirementList(reqs []protocol.Requirement) string {
	lines := make([]string, 0, len(reqs))
	for _, req := range reqs {
		lines = append(lines, "- "+req.ReqID+": "+req.ShortName)
	}
	return strings.Join(lines, "\n")
}
