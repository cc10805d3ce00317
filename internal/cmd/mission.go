package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/mission"
	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/ui"
)

var missionCmd = &cobra.Command{
	Use:     "mission",
	GroupID: GroupAutomation,
	Short:   "Manage headless background missions",
	RunE:    requireSubcommand,
	Long: `Manage missions: headless agent runs with a prompt, a role, and a
timeout.

Scheduled missions fire daily at their HH:MM; any mission can also be run
on demand. The agent reports back with 'cos mission complete'.`,
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE:  runMissionList,
}

var missionShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show a mission and its prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionShow,
}

var missionRunCmd = &cobra.Command{
	Use:   "run <slug>",
	Short: "Run a mission now and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionRun,
}

var missionEnableCmd = &cobra.Command{
	Use:   "enable <slug>",
	Short: "Enable a mission",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setMissionEnabled(args[0], true) },
}

var missionDisableCmd = &cobra.Command{
	Use:   "disable <slug>",
	Short: "Disable a mission",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setMissionEnabled(args[0], false) },
}

var missionCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Close the calling agent's mission execution",
	Long: `Report a mission execution finished.

Called by the mission agent itself; the execution id comes from the
environment contract or --execution. Without this call the execution is
recorded as failed when the agent exits.`,
	RunE: runMissionComplete,
}

var missionRunsCmd = &cobra.Command{
	Use:   "runs <slug>",
	Short: "Show a mission's recent executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionRuns,
}

var (
	missionCompleteExecID  string
	missionCompleteSummary string
	missionCompleteFailed  bool
)

func init() {
	missionCompleteCmd.Flags().StringVar(&missionCompleteExecID, "execution", "",
		"Execution id (defaults to MISSION_EXECUTION_ID)")
	missionCompleteCmd.Flags().StringVar(&missionCompleteSummary, "summary", "",
		"One-paragraph outcome summary")
	missionCompleteCmd.Flags().BoolVar(&missionCompleteFailed, "failed", false,
		"Record the execution as failed")

	missionCmd.AddCommand(missionListCmd)
	missionCmd.AddCommand(missionShowCmd)
	missionCmd.AddCommand(missionRunCmd)
	missionCmd.AddCommand(missionEnableCmd)
	missionCmd.AddCommand(missionDisableCmd)
	missionCmd.AddCommand(missionCompleteCmd)
	missionCmd.AddCommand(missionRunsCmd)
	rootCmd.AddCommand(missionCmd)
}

func runMissionList(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	store := mission.NewStore(database)
	if err := store.EnsureDefaults(); err != nil {
		return err
	}
	missions, err := store.List()
	if err != nil {
		return err
	}

	table := style.NewTable(
		style.Column{Name: "SLUG", Width: 18},
		style.Column{Name: "ROLE", Width: 12},
		style.Column{Name: "SOURCE", Width: 14},
		style.Column{Name: "AT", Width: 6},
		style.Column{Name: "ENABLED", Width: 8},
		style.Column{Name: "LAST STATUS", Width: 12},
	)
	for _, m := range missions {
		enabled := style.Good.Render("yes")
		if !m.Enabled {
			enabled = style.Dim.Render("no")
		}
		table.AddRow(m.Slug, m.Role, m.Source, m.ScheduleTime, enabled, m.LastStatus)
	}
	fmt.Print(table.Render())
	return nil
}

func runMissionShow(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	m, err := mission.NewStore(database).Get(args[0])
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no mission %q", args[0])
	}

	fmt.Printf("%s %s (%s)\n", style.Header.Render("Mission"), m.Slug, m.Source)
	fmt.Printf("  role:    %s (%s)\n", m.Role, m.Mode)
	if m.ScheduleTime != "" {
		fmt.Printf("  daily:   %s\n", m.ScheduleTime)
	}
	fmt.Printf("  timeout: %dm\n", m.TimeoutMinutes)

	prompt := m.PromptInline
	if m.PromptFile != "" {
		data, err := os.ReadFile(m.PromptFile)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		prompt = string(data)
	}
	fmt.Println()
	fmt.Print(renderMarkdown(prompt))
	return nil
}

// renderMarkdown pretty-prints for terminals and passes through otherwise.
func renderMarkdown(md string) string {
	if !ui.IsTerminal() || ui.IsAgentMode() {
		return md
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func runMissionRun(cmd *cobra.Command, args []string) error {
	root, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	cfg, err := config.Resolve(root)
	if err != nil {
		return err
	}

	store := mission.NewStore(database)
	executor := mission.NewExecutor(store, cfg, eventbus.New(), root,
		cfg.Missions.MaxConcurrent, nil)

	e, err := executor.Execute(cmd.Context(), args[0], nil)
	if err != nil {
		return err
	}
	fmt.Printf("mission %s running (execution %s)\n", args[0], e.ID)
	executor.Wait()

	final, err := store.GetExecution(e.ID)
	if err != nil {
		return err
	}
	if final.Status == mission.ExecCompleted {
		fmt.Printf("%s completed in %.0fs", style.Good.Render("✓"), final.DurationSeconds)
		if final.OutputSummary != "" {
			fmt.Printf(": %s", final.OutputSummary)
		}
		fmt.Println()
		return nil
	}
	return fmt.Errorf("mission %s %s: %s", args[0], final.Status, final.ErrorMessage)
}

func setMissionEnabled(slug string, enabled bool) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()
	return mission.NewStore(database).SetEnabled(slug, enabled)
}

func runMissionComplete(cmd *cobra.Command, args []string) error {
	execID := missionCompleteExecID
	if execID == "" {
		execID = os.Getenv(constants.EnvMissionExecutionID)
	}
	if execID == "" {
		return fmt.Errorf("no execution id: pass --execution or run inside a mission agent")
	}

	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	status := mission.ExecCompleted
	errMsg := ""
	if missionCompleteFailed {
		status = mission.ExecFailed
		errMsg = missionCompleteSummary
	}
	if err := mission.NewStore(database).CloseExecution(
		execID, status, missionCompleteSummary, errMsg); err != nil {
		return err
	}
	fmt.Printf("execution %s closed as %s\n", execID, status)
	return nil
}

func runMissionRuns(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	execs, err := mission.NewStore(database).Executions(args[0], 20)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Println("No executions.")
		return nil
	}
	for _, e := range execs {
		line := fmt.Sprintf("%s  %-10s  %s",
			e.StartedAt.Local().Format("2006-01-02 15:04"), e.Status,
			firstNonEmpty(e.OutputSummary, e.ErrorMessage))
		fmt.Println(strings.TrimRight(line, " "))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
