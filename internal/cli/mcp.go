package cli

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/bishoku/autopilot-codex/internal/mcptools"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the autopilot tools over MCP on stdio",
		Long: `Expose stage generation and task execution as MCP tools. Register it
with an MCP client as:

  autopilot mcp --config /path/to/autopilot.json`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("mcp server starting", "version", Version)
	return server.ServeStdio(mcptools.NewServer(a.svc, Version))
}
