package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bishoku/autopilot-codex/internal/config"
	"github.com/bishoku/autopilot-codex/internal/eventlog"
	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/scheduler"
	"github.com/bishoku/autopilot-codex/internal/service"
	"github.com/bishoku/autopilot-codex/internal/store"
	"github.com/bishoku/autopilot-codex/internal/supervisor"
	"github.com/bishoku/autopilot-codex/internal/transcript"
	"github.com/bishoku/autopilot-codex/internal/workspace"
)

// app is the wired runtime shared by every command that touches the store
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
	db      *store.DB
	orch    *scheduler.Orchestrator
	svc     *service.Service
}

// loadConfig resolves the configuration for cmd from --config and the
// working directory
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.Load(configPath, cwd)
}

// newLogger writes to stderr so stdout stays free for command output and
// the MCP transport
func newLogger(cfg *config.Config, jsonFormat bool) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Server.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openApp loads configuration, initializes the workspace and wires the
// store, codex supervisor, orchestrator and service.
func openApp(cmd *cobra.Command, jsonLogs bool) (*app, error) {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, jsonLogs)
	if cfgPath != "" {
		logger.Debug("loaded configuration", "path", cfgPath)
	}

	layout := cfg.Layout()
	if err := workspace.Initialize(layout.Root); err != nil {
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	agent := supervisor.NewCodexSupervisor(supervisor.Config{
		BinPath:          cfg.Codex.BinPath,
		ExtraArgs:        cfg.Codex.ExtraArgs,
		Env:              cfg.Codex.Env,
		Sandbox:          cfg.Codex.Sandbox,
		SkipGitRepoCheck: cfg.Codex.SkipGitRepoCheck,
		SchemaDir:        layout.SchemasPath(),
	}, logger)

	orch := scheduler.NewOrchestrator(db, agent, nil, logger)
	orch.SetExclusiveSessions(cfg.Execution.ExclusiveSessions)
	if cfg.Events.MirrorNDJSON {
		mirror, err := eventlog.NewMirror(layout.EventsPath(), logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		orch.SetEventLogger(mirror)
	}

	return &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  logger,
		db:      db,
		orch:    orch,
		svc:     service.New(db, orch, logger),
	}, nil
}

// echoEvents prints every live agent event to w
func (a *app) echoEvents(w io.Writer) {
	formatter := transcript.NewFormatter()
	a.orch.SetEventHandler(func(evt protocol.SinkEvent) {
		fmt.Fprintln(w, formatter.FormatEvent(evt))
	})
}

func (a *app) Close() error {
	return a.db.Close()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
