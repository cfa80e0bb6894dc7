package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// maxTextLen bounds agent text echoed to the console
const maxTextLen = 160

// Formatter formats agent events and runs for console output
type Formatter struct{}

// NewFormatter creates a new transcript formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatEvent formats a forwarded agent event for console display
func (f *Formatter) FormatEvent(evt protocol.SinkEvent) string {
	prefix := "codex"
	if evt.Stage != "" {
		prefix = evt.Stage.Slug()
	}

	var details string
	name := evt.Type

	switch evt.Type {
	case protocol.EventThreadStarted:
		if id, ok := evt.Raw["thread_id"].(string); ok {
			details = id
		}

	case protocol.EventTurnCompleted:
		if usage, ok := evt.Raw["usage"].(map[string]any); ok {
			details = fmt.Sprintf("tokens in=%v out=%v", number(usage["input_tokens"]), number(usage["output_tokens"]))
		}

	case protocol.EventTurnFailed:
		if e, ok := evt.Raw["error"].(map[string]any); ok {
			if msg, ok := e["message"].(string); ok {
				details = msg
			}
		}

	case protocol.EventItemStarted, protocol.EventItemUpdated, protocol.EventItemCompleted:
		item, _ := evt.Raw["item"].(map[string]any)
		if evt.ItemType != "" {
			name = evt.ItemType
		}
		if evt.Type != protocol.EventItemCompleted {
			name += " " + strings.TrimPrefix(evt.Type, "item.")
		}
		details = f.formatItem(evt.ItemType, item)

	default:
		details = evt.Message
	}

	if details != "" {
		return fmt.Sprintf("[%s] %s: %s", prefix, name, truncate(details))
	}
	return fmt.Sprintf("[%s] %s", prefix, name)
}

func (f *Formatter) formatItem(itemType string, item map[string]any) string {
	str := func(key string) string {
		s, _ := item[key].(string)
		return s
	}

	switch itemType {
	case "agent_message", "reasoning":
		return oneLine(str("text"))

	case "command_execution":
		details := str("command")
		if code, ok := item["exit_code"].(float64); ok {
			details += fmt.Sprintf(" (exit %d", int(code))
			if out := str("aggregated_output"); out != "" {
				details += ", " + f.formatSize(int64(len(out)))
			}
			details += ")"
		}
		return details

	case "file_change":
		changes, _ := item["changes"].([]any)
		paths := make([]string, 0, len(changes))
		for _, c := range changes {
			if m, ok := c.(map[string]any); ok {
				path, _ := m["path"].(string)
				kind, _ := m["kind"].(string)
				paths = append(paths, strings.TrimSpace(kind+" "+path))
			}
		}
		return strings.Join(paths, ", ")

	case "mcp_tool_call":
		return strings.Trim(str("server")+"."+str("tool"), ".")

	case "web_search":
		return str("query")

	case "error":
		return str("message")
	}
	return oneLine(str("text"))
}

// FormatRun formats a run summary line
func (f *Formatter) FormatRun(run *protocol.Run) string {
	line := fmt.Sprintf("run %s %s %s", run.ID, run.Stage, run.Status)
	if run.TaskID != nil {
		line += " task=" + *run.TaskID
	}
	if run.StartedAt != nil && run.EndedAt != nil {
		line += fmt.Sprintf(" (%s)", run.EndedAt.Sub(*run.StartedAt).Round(100*time.Millisecond))
	}
	if run.Error != nil {
		line += ": " + *run.Error
	}
	return line
}

// formatSize formats a byte size in a human-readable format
func (f *Formatter) formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func number(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	if v == nil {
		return "?"
	}
	return v
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxTextLen {
		return s
	}
	return string(r[:maxTextLen-1]) + "…"
}
