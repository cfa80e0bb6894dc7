package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/service"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a session for a project directory",
		Args:  cobra.NoArgs,
		RunE:  runSessionCreate,
	}
	create.Flags().String("project", "", "Project directory codex works in (default: current directory)")
	create.Flags().String("name", "", "Optional display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSessionList,
	}

	show := &cobra.Command{
		Use:   "show <session>",
		Short: "Show a session with its intent and tasks",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionShow,
	}

	intent := &cobra.Command{
		Use:   "intent <session> [text...]",
		Short: "Set the free-text intent of a session",
		Long: `Set the intent from the remaining arguments, or from a file with
--file ("-" reads standard input).`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSessionIntent,
	}
	intent.Flags().StringP("file", "f", "", "Read the intent from a file")

	cmd.AddCommand(create, list, show, intent)
	return cmd
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		project = cwd
	}
	project, err := filepath.Abs(project)
	if err != nil {
		return fmt.Errorf("failed to resolve project path: %w", err)
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	in := service.CreateSessionInput{ProjectPath: project}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		in.Name = &name
	}
	sess, err := a.svc.CreateSession(cmd.Context(), in)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.svc.ListSessions(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAGE\tNAME\tPROJECT")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, stageName(s.CurrentStage), protocol.Deref(s.Name), s.ProjectPath)
	}
	return tw.Flush()
}

// sessionView is the show output
type sessionView struct {
	*protocol.Session
	Intent *string         `json:"intent"`
	Tasks  []protocol.Task `json:"tasks"`
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sess, err := a.svc.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	view := sessionView{Session: sess}
	if intent, err := a.svc.GetIntent(ctx, sess.ID); err == nil {
		view.Intent = &intent.Text
	}
	if view.Tasks, err = a.svc.ListTasks(ctx, sess.ID); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), view)
}

func runSessionIntent(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return fmt.Errorf("failed to read intent: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("intent text is required: pass it as arguments or with --file")
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.svc.SetIntent(cmd.Context(), args[0], text); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Intent saved for %s\n", args[0])
	return nil
}

func stageName(s *protocol.Stage) string {
	if s == nil {
		return "-"
	}
	return string(*s)
}
