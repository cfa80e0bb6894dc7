package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bishoku/autopilot-codex/internal/ledger"
	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/service"
	"github.com/bishoku/autopilot-codex/internal/transcript"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <session> <stage>",
		Short: "Generate one stage with codex",
		Long: `Run a generative stage and persist its output. Stages:
requirements, acceptance-criteria, impact-analysis, tasks.`,
		Args: cobra.ExactArgs(2),
		RunE: runGenerate,
	}
	cmd.Flags().BoolP("quiet", "q", false, "Do not print live agent events")
	return cmd
}

func newExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <session> [taskIds...]",
		Short: "Execute tasks sequentially (all tasks when none are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExecute,
	}
	cmd.Flags().BoolP("quiet", "q", false, "Do not print live agent events")
	return cmd
}

func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <session> <task>",
		Short: "Execute a task again with extra instructions",
		Args:  cobra.ExactArgs(2),
		RunE:  runRetry,
	}
	cmd.Flags().StringP("extra", "e", "", "Extra instructions appended to the task prompt (required)")
	cmd.MarkFlagRequired("extra")
	cmd.Flags().BoolP("quiet", "q", false, "Do not print live agent events")
	return cmd
}

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <session>",
		Short: "List the runs of a session, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runRuns,
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <run>",
		Short: "Print the recorded events of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	cmd.Flags().Int("limit", service.DefaultEventLimit, "Maximum number of events")
	cmd.Flags().Int("offset", 0, "Number of events to skip")
	cmd.Flags().Bool("json", false, "Print events as NDJSON")
	return cmd
}

// interruptible cancels the command context on SIGINT/SIGTERM so an
// in-flight run is settled as FAILED instead of being left RUNNING
func interruptible(cmd *cobra.Command) context.CancelFunc {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	cmd.SetContext(ctx)
	return stop
}

func runGenerate(cmd *cobra.Command, args []string) error {
	stage, ok := protocol.ParseStage(args[1])
	if !ok {
		return fmt.Errorf("unknown stage %q", args[1])
	}

	stop := interruptible(cmd)
	defer stop()

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		a.echoEvents(cmd.OutOrStdout())
	}

	run, err := a.svc.GenerateStage(cmd.Context(), args[0], stage)
	if run != nil {
		fmt.Fprintln(cmd.OutOrStdout(), transcript.NewFormatter().FormatRun(run))
	}
	return err
}

func runExecute(cmd *cobra.Command, args []string) error {
	stop := interruptible(cmd)
	defer stop()

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		a.echoEvents(cmd.OutOrStdout())
	}

	ctx := cmd.Context()
	res, err := a.svc.StartExecution(ctx, args[0], args[1:])
	if res != nil {
		out := cmd.OutOrStdout()
		formatter := transcript.NewFormatter()
		fmt.Fprintf(out, "execution %s: %d run(s)\n", res.ExecutionID, len(res.RunIDs))
		for _, id := range res.RunIDs {
			run, gerr := a.svc.GetRun(context.WithoutCancel(ctx), id)
			if gerr != nil {
				return errors.Join(err, gerr)
			}
			fmt.Fprintln(out, formatter.FormatRun(run))
		}
	}
	return err
}

func runRetry(cmd *cobra.Command, args []string) error {
	extra, _ := cmd.Flags().GetString("extra")

	stop := interruptible(cmd)
	defer stop()

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		a.echoEvents(cmd.OutOrStdout())
	}

	run, err := a.svc.RetryTask(cmd.Context(), args[0], args[1], extra)
	if run != nil {
		fmt.Fprintln(cmd.OutOrStdout(), transcript.NewFormatter().FormatRun(run))
	}
	return err
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.svc.ListRuns(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	formatter := transcript.NewFormatter()
	for i := range runs {
		fmt.Fprintln(cmd.OutOrStdout(), formatter.FormatRun(&runs[i]))
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	run, err := a.svc.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	events, err := a.svc.ListEvents(ctx, run.ID, limit, offset)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		for i := range events {
			if err := enc.Encode(&events[i]); err != nil {
				return err
			}
		}
		return nil
	}

	formatter := transcript.NewFormatter()
	for i := range events {
		fmt.Fprintf(out, "%4d %s\n", events[i].Seq, formatter.FormatEvent(sinkEvent(run.SessionID, run.Stage, &events[i])))
	}
	return nil
}

// sinkEvent rebuilds the live notification of a recorded event
func sinkEvent(sessionID string, stage protocol.Stage, evt *protocol.RunEvent) protocol.SinkEvent {
	agentEvt := ledger.AgentEvent(evt)
	return protocol.SinkEvent{
		SessionID: sessionID,
		RunID:     evt.RunID,
		Stage:     stage,
		TS:        evt.TS,
		Type:      agentEvt.Type,
		ItemType:  agentEvt.ItemType,
		Message:   agentEvt.Message,
		Raw:       agentEvt.Raw,
	}
}
