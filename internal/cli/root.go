package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

// NewRootCmd builds the autopilot command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Drive Codex through a staged development workflow",
		Long: `autopilot turns a free-text intent into requirements, acceptance
criteria, an impact analysis and implementation tasks by invoking the
Codex CLI, then executes the tasks one at a time in the project directory.

Every invocation is recorded as a run with its full event stream.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to autopilot.json or autopilot.yaml (default: search up directory tree)")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newExecuteCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newMCPCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
