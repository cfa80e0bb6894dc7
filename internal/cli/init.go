package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bishoku/autopilot-codex/internal/config"
	"github.com/bishoku/autopilot-codex/internal/workspace"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and create the workspace",
		Long: `Write autopilot.json (or autopilot.yaml with --yaml) in the current
directory and create the workspace directories it points at.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	cmd.Flags().Bool("yaml", false, "Write autopilot.yaml instead of autopilot.json")
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	asYAML, _ := cmd.Flags().GetBool("yaml")
	force, _ := cmd.Flags().GetBool("force")

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	name := config.FileNames[0]
	if asYAML {
		name = config.FileNames[1]
	}
	path := filepath.Join(cwd, name)

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	root := filepath.Join(cwd, cfg.WorkspaceRoot)
	if err := workspace.Initialize(root); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	fmt.Fprintf(out, "Wrote %s\n", path)
	fmt.Fprintf(out, "Workspace ready at %s\n", root)
	return nil
}
