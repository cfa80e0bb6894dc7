package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bishoku/autopilot-codex/internal/ledger"
	"github.com/bishoku/autopilot-codex/internal/transcript"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <ndjson>",
		Short: "Print an event log through the transcript formatter",
		Long: `Replay a run event mirror (<workspace>/events/<runId>.ndjson) or a
captured 'codex exec --json' transcript without touching the database.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	lg, err := ledger.ReadLedger(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	formatter := transcript.NewFormatter()
	for _, evt := range lg.Events {
		fmt.Fprintln(out, formatter.FormatEvent(sinkEvent("", "", evt)))
	}

	fmt.Fprintln(out)
	if threadID, ok := lg.ThreadID(); ok {
		fmt.Fprintf(out, "thread:  %s\n", threadID)
	}
	fmt.Fprintf(out, "events:  %d\n", len(lg.Events))

	counts := lg.CountByType()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "  %-16s %d\n", t, counts[t])
	}

	if lg.Interrupted() {
		fmt.Fprintln(out, "outcome: interrupted (no terminal event)")
	} else {
		fmt.Fprintf(out, "outcome: %s\n", lg.Terminal().Type)
	}
	return nil
}
