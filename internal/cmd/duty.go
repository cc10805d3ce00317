package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/duty"
	"github.com/claudeos/cos/internal/style"
)

var dutyCmd = &cobra.Command{
	Use:     "duty",
	GroupID: GroupAutomation,
	Short:   "Manage the Chief's recurring duties",
	RunE:    requireSubcommand,
	Long: `Manage recurring Chief duties.

A duty fires once per day at its scheduled time by injecting its prompt
into the Chief window. Missed duties (daemon down, window absent) fire as
soon as the scheduler next sees them.`,
}

var dutyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List duties",
	RunE:  runDutyList,
}

var dutyAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Add or update a duty",
	Args:  cobra.ExactArgs(1),
	RunE:  runDutyAdd,
}

var dutyShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show a duty and its prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runDutyShow,
}

var dutyEnableCmd = &cobra.Command{
	Use:   "enable <slug>",
	Short: "Enable a duty",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setDutyEnabled(args[0], true) },
}

var dutyDisableCmd = &cobra.Command{
	Use:   "disable <slug>",
	Short: "Disable a duty",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setDutyEnabled(args[0], false) },
}

var dutyRunsCmd = &cobra.Command{
	Use:   "runs <slug>",
	Short: "Show a duty's recent executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runDutyRuns,
}

var (
	dutyAddName    string
	dutyAddAt      string
	dutyAddPrompt  string
	dutyAddTimeout int
)

func init() {
	dutyAddCmd.Flags().StringVar(&dutyAddName, "name", "", "Display name")
	dutyAddCmd.Flags().StringVar(&dutyAddAt, "at", "", "Schedule time, HH:MM (required)")
	dutyAddCmd.Flags().StringVar(&dutyAddPrompt, "prompt-file", "", "Prompt file injected instead of the slash command")
	dutyAddCmd.Flags().IntVar(&dutyAddTimeout, "timeout", 15, "Timeout in minutes")
	_ = dutyAddCmd.MarkFlagRequired("at")

	dutyCmd.AddCommand(dutyListCmd)
	dutyCmd.AddCommand(dutyShowCmd)
	dutyCmd.AddCommand(dutyAddCmd)
	dutyCmd.AddCommand(dutyEnableCmd)
	dutyCmd.AddCommand(dutyDisableCmd)
	dutyCmd.AddCommand(dutyRunsCmd)
	rootCmd.AddCommand(dutyCmd)
}

func runDutyList(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	store := duty.NewStore(database)
	if err := store.EnsureDefaults(); err != nil {
		return err
	}
	duties, err := store.List()
	if err != nil {
		return err
	}

	table := style.NewTable(
		style.Column{Name: "SLUG", Width: 18},
		style.Column{Name: "NAME", Width: 20},
		style.Column{Name: "AT", Width: 6},
		style.Column{Name: "ENABLED", Width: 8},
		style.Column{Name: "LAST RUN", Width: 21},
		style.Column{Name: "STATUS", Width: 10},
	)
	for _, d := range duties {
		enabled := style.Good.Render("yes")
		if !d.Enabled {
			enabled = style.Dim.Render("no")
		}
		table.AddRow(d.Slug, d.Name, d.ScheduleTime, enabled, d.LastRun, d.LastStatus)
	}
	fmt.Print(table.Render())
	return nil
}

func runDutyAdd(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	slug := args[0]
	name := dutyAddName
	if name == "" {
		name = slug
	}
	store := duty.NewStore(database)
	if err := store.Upsert(&duty.Duty{
		Slug:           slug,
		Name:           name,
		ScheduleTime:   dutyAddAt,
		PromptFile:     dutyAddPrompt,
		TimeoutMinutes: dutyAddTimeout,
		Enabled:        true,
	}); err != nil {
		return err
	}
	fmt.Printf("%s duty %s scheduled daily at %s\n", style.Good.Render("✓"), slug, dutyAddAt)
	return nil
}

func runDutyShow(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	d, err := duty.NewStore(database).Get(args[0])
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("no duty %q", args[0])
	}

	fmt.Printf("%s %s\n", style.Header.Render("Duty"), d.Slug)
	fmt.Printf("  name:    %s\n", d.Name)
	fmt.Printf("  daily:   %s\n", d.ScheduleTime)
	fmt.Printf("  timeout: %dm\n", d.TimeoutMinutes)
	if d.LastRun != "" {
		fmt.Printf("  last:    %s (%s)\n", d.LastRun, d.LastStatus)
	}

	if d.PromptFile != "" {
		data, err := os.ReadFile(d.PromptFile)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		fmt.Println()
		fmt.Print(renderMarkdown(string(data)))
	} else {
		fmt.Printf("  prompt:  /%s slash command\n", d.Slug)
	}
	return nil
}

func setDutyEnabled(slug string, enabled bool) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()
	return duty.NewStore(database).SetEnabled(slug, enabled)
}

func runDutyRuns(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	execs, err := duty.NewStore(database).Executions(args[0], 20)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Println("No executions.")
		return nil
	}
	for _, e := range execs {
		fmt.Printf("%s  %-10s  %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"), e.Status, e.ErrorMessage)
	}
	return nil
}
