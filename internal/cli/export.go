package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <session>",
		Short: "Write the session's artifacts as markdown into its project",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Export(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, f := range res.Manifest.Files {
		fmt.Fprintf(out, "%s  %s\n", shortHash(f.SHA256), f.Path)
	}
	fmt.Fprintf(out, "Exported %d file(s) to %s\n", len(res.Manifest.Files), res.Dir)
	return nil
}

func shortHash(h string) string {
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
