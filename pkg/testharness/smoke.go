package testharness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bishoku/autopilot-codex/internal/config"
)

// Scenario defines a deterministic smoke-test flow driven by mockcodex
type Scenario struct {
	Name   string
	Intent string
	// Stages are generated in order, by route slug
	Stages []string
	// Execute runs every generated task after the stages
	Execute bool
	// Script, when set, is played by mockcodex for every invocation
	Script string
}

var (
	// ScenarioFullWorkflow generates every stage and executes the tasks
	ScenarioFullWorkflow = Scenario{
		Name:    "full-workflow",
		Intent:  "Add a login page with email and password",
		Stages:  []string{"requirements", "acceptance-criteria", "impact-analysis", "tasks"},
		Execute: true,
	}
	// ScenarioAgentCrash checks a codex failure is recorded on the run
	ScenarioAgentCrash = Scenario{
		Name:   "agent-crash",
		Intent: "Add a login page",
		Stages: []string{"requirements"},
		Script: "testdata/fixtures/agent-crash.json",
	}
)

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	Scenario        Scenario
	AutopilotBinary string
	MockCodexBinary string
	WorkspaceDir    string
	Env             map[string]string
}

// Step is one autopilot invocation of a scenario
type Step struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

// SmokeResult captures the outcome of a smoke scenario.
type SmokeResult struct {
	Scenario     Scenario
	Workspace    string
	ProjectDir   string
	ConfigPath   string
	DatabasePath string
	SessionID    string
	Steps        []Step
	// RunErr is the first failing step's error
	RunErr error
}

// Output joins the stdout of every step
func (r *SmokeResult) Output() string {
	var b strings.Builder
	for _, s := range r.Steps {
		b.WriteString(s.Stdout)
	}
	return b.String()
}

// RunSmoke executes a smoke scenario using the provided binaries. It stops
// at the first failing step.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.AutopilotBinary == "" {
		return nil, fmt.Errorf("autopilot binary path is required")
	}
	if opts.MockCodexBinary == "" {
		return nil, fmt.Errorf("mockcodex binary path is required")
	}

	repoRoot, err := DetectRepoRoot()
	if err != nil {
		return nil, err
	}

	workspace := opts.WorkspaceDir
	if workspace == "" {
		workspace, err = os.MkdirTemp("", "autopilot-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	} else {
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	projectDir := filepath.Join(workspace, "project")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	cfg := config.GenerateDefault()
	cfg.WorkspaceRoot = ".autopilot"
	cfg.Codex.BinPath = opts.MockCodexBinary
	cfg.Codex.SkipGitRepoCheck = true
	cfg.Server.LogLevel = "debug"

	env := map[string]string{}
	for k, v := range opts.Env {
		env[k] = v
	}
	if opts.Scenario.Script != "" {
		scriptPath, err := resolveScenarioPath(repoRoot, opts.Scenario.Script)
		if err != nil {
			return nil, err
		}
		env["MOCKCODEX_SCRIPT"] = scriptPath
	}

	configPath := filepath.Join(workspace, "autopilot.json")
	if err := cfg.SaveToFile(configPath); err != nil {
		return nil, err
	}

	result := &SmokeResult{
		Scenario:     opts.Scenario,
		Workspace:    workspace,
		ProjectDir:   projectDir,
		ConfigPath:   configPath,
		DatabasePath: filepath.Join(workspace, cfg.WorkspaceRoot, cfg.Database.Path),
	}

	run := func(args ...string) *Step {
		step := runAutopilot(ctx, opts.AutopilotBinary, workspace, configPath, env, args...)
		result.Steps = append(result.Steps, *step)
		if step.Err != nil && result.RunErr == nil {
			result.RunErr = fmt.Errorf("autopilot %s: %w", strings.Join(args, " "), step.Err)
		}
		return step
	}

	step := run("session", "create", "--project", projectDir, "--name", opts.Scenario.Name)
	if step.Err != nil {
		return result, nil
	}
	result.SessionID = strings.TrimSpace(step.Stdout)

	if step := run("session", "intent", result.SessionID, opts.Scenario.Intent); step.Err != nil {
		return result, nil
	}
	for _, stage := range opts.Scenario.Stages {
		if step := run("generate", result.SessionID, stage); step.Err != nil {
			return result, nil
		}
	}
	if opts.Scenario.Execute {
		run("execute", result.SessionID)
	}
	return result, nil
}

func runAutopilot(ctx context.Context, binary, dir, configPath string, env map[string]string, args ...string) *Step {
	full := append([]string{"--config", configPath}, args...)

	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}

	cmd := exec.CommandContext(ctx, binary, full...)
	cmd.Dir = dir
	cmd.Stdout = stdOut
	cmd.Stderr = stdErr
	cmd.Env = mergeEnv(os.Environ(), env)

	err := cmd.Run()
	return &Step{Args: args, Stdout: stdOut.String(), Stderr: stdErr.String(), Err: err}
}

func resolveScenarioPath(root, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	abs := filepath.Join(root, path)
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("scenario script %s not found: %w", abs, err)
	}
	return abs, nil
}

// DetectRepoRoot locates the repository root by searching for go.mod.
func DetectRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found (starting from %s)", dir)
		}
		dir = parent
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	result := append([]string{}, base...)
	for k, v := range overrides {
		result = setEnv(result, k, v)
	}
	return result
}
