// Command mockcodex imitates `codex exec --json` for tests. It prints a
// scripted NDJSON conversation on stdout and exits.
//
// Environment:
//
//	MOCKCODEX_SCRIPT  path to a script.Script; when unset a canned
//	                  conversation is generated from --output-schema
//	MOCKCODEX_RECORD  path where the parsed invocation is written as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bishoku/autopilot-codex/internal/agent/script"
	"github.com/bishoku/autopilot-codex/internal/fsutil"
	"github.com/bishoku/autopilot-codex/internal/ndjson"
	"github.com/google/uuid"
)

// Invocation is the parsed command line, recorded for test assertions
type Invocation struct {
	Args             []string       `json:"args"`
	Dir              string         `json:"dir"`
	FullAuto         bool           `json:"full_auto"`
	Sandbox          string         `json:"sandbox,omitempty"`
	SkipGitRepoCheck bool           `json:"skip_git_repo_check"`
	SchemaPath       string         `json:"schema_path,omitempty"`
	Schema           map[string]any `json:"schema,omitempty"`
	ThreadID         string         `json:"thread_id,omitempty"`
	Prompt           string         `json:"prompt"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	inv, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	inv.Dir, _ = os.Getwd()

	if inv.SchemaPath != "" {
		data, err := os.ReadFile(inv.SchemaPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read output schema: %v\n", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(data, &inv.Schema); err != nil {
			fmt.Fprintf(os.Stderr, "error: parse output schema: %v\n", err)
			os.Exit(1)
		}
	}

	if path := os.Getenv("MOCKCODEX_RECORD"); path != "" {
		if err := fsutil.AtomicWriteJSON(path, inv); err != nil {
			fmt.Fprintf(os.Stderr, "error: record invocation: %v\n", err)
			os.Exit(1)
		}
	}

	s, err := loadScript(inv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(play(ctx, s, ndjson.NewEncoder(os.Stdout, logger)))
}

func parseArgs(args []string) (*Invocation, error) {
	inv := &Invocation{Args: args}
	if len(args) == 0 || args[0] != "exec" {
		return nil, fmt.Errorf("expected exec subcommand")
	}

	var positional []string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--json":
		case "--full-auto":
			inv.FullAuto = true
		case "--skip-git-repo-check":
			inv.SkipGitRepoCheck = true
		case "--sandbox", "-s", "--output-schema", "--model", "-m", "--profile", "-p", "-c", "--config":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("flag %s needs a value", arg)
			}
			i++
			switch arg {
			case "--sandbox", "-s":
				inv.Sandbox = args[i]
			case "--output-schema":
				inv.SchemaPath = args[i]
			}
		default:
			if strings.HasPrefix(arg, "-") && len(positional) == 0 {
				continue
			}
			positional = append(positional, arg)
		}
	}

	if len(positional) >= 2 && positional[0] == "resume" {
		inv.ThreadID = positional[1]
		positional = positional[2:]
	}
	if len(positional) == 0 {
		return nil, fmt.Errorf("missing prompt")
	}
	inv.Prompt = strings.Join(positional, " ")
	return inv, nil
}

func loadScript(inv *Invocation) (*script.Script, error) {
	if path := os.Getenv("MOCKCODEX_SCRIPT"); path != "" {
		return script.Load(path)
	}

	threadID := inv.ThreadID
	if threadID == "" {
		threadID = "thread-" + uuid.New().String()
	}
	return script.Conversation(threadID, inv.ThreadID != "", script.SampleReply(inv.Schema))
}

func play(ctx context.Context, s *script.Script, enc *ndjson.Encoder) int {
	for _, step := range s.Steps {
		if step.DelayMs > 0 {
			if !sleep(ctx, time.Duration(step.DelayMs)*time.Millisecond) {
				return 130
			}
		}

		switch {
		case step.Event != nil:
			if err := enc.Encode(step.Event); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				return 1
			}
		case step.Stderr != "":
			fmt.Fprintln(os.Stderr, step.Stderr)
		default:
			fmt.Fprintln(os.Stdout, step.Line)
		}
	}

	if s.HoldMs > 0 && !sleep(ctx, time.Duration(s.HoldMs)*time.Millisecond) {
		return 130
	}
	return s.ExitCode
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
