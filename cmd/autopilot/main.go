// Command autopilot drives Codex through the intent → tasks → execution
// workflow from the command line, over HTTP, or as an MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/bishoku/autopilot-codex/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
