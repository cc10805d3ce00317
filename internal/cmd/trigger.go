package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/trigger"
)

var triggerCmd = &cobra.Command{
	Use:     "trigger",
	GroupID: GroupAutomation,
	Short:   "Manage scheduled and calendar triggers",
	RunE:    requireSubcommand,
	Long: `Manage triggers that nudge the Chief window.

A scheduled trigger fires daily at HH:MM. A calendar trigger watches the
configured calendar command and announces events shortly before they
start; each event fires once.`,
}

var triggerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List triggers",
	RunE:  runTriggerList,
}

var triggerAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriggerAdd,
}

var triggerEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setTriggerEnabled(args[0], true) },
}

var triggerDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setTriggerEnabled(args[0], false) },
}

var (
	triggerAddType   string
	triggerAddTime   string
	triggerAddPrompt string
)

func init() {
	triggerAddCmd.Flags().StringVar(&triggerAddType, "type", trigger.TypeScheduled,
		"Trigger type (scheduled or calendar)")
	triggerAddCmd.Flags().StringVar(&triggerAddTime, "time", "",
		"HH:MM for scheduled triggers")
	triggerAddCmd.Flags().StringVar(&triggerAddPrompt, "prompt", "",
		"Message injected when the trigger fires")

	triggerCmd.AddCommand(triggerListCmd)
	triggerCmd.AddCommand(triggerAddCmd)
	triggerCmd.AddCommand(triggerEnableCmd)
	triggerCmd.AddCommand(triggerDisableCmd)
	rootCmd.AddCommand(triggerCmd)
}

func runTriggerList(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	triggers, err := trigger.NewStore(database).List()
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		fmt.Println("No triggers.")
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "ID", Width: 4, Align: style.AlignRight},
		style.Column{Name: "NAME", Width: 20},
		style.Column{Name: "TYPE", Width: 10},
		style.Column{Name: "SPEC", Width: 8},
		style.Column{Name: "ENABLED", Width: 8},
		style.Column{Name: "LAST RUN", Width: 21},
	)
	for _, tr := range triggers {
		enabled := style.Good.Render("yes")
		if !tr.Enabled {
			enabled = style.Dim.Render("no")
		}
		table.AddRow(strconv.FormatInt(tr.ID, 10), tr.Name, tr.Type, tr.TimeSpec, enabled, tr.LastRun)
	}
	fmt.Print(table.Render())
	return nil
}

func runTriggerAdd(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if triggerAddType == trigger.TypeScheduled && triggerAddTime == "" {
		return fmt.Errorf("scheduled triggers need --time HH:MM")
	}

	id, err := trigger.NewStore(database).Create(&trigger.Trigger{
		Name:     args[0],
		Type:     triggerAddType,
		TimeSpec: triggerAddTime,
		Prompt:   triggerAddPrompt,
		Enabled:  true,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s trigger %d added\n", style.Good.Render("✓"), id)
	return nil
}

func setTriggerEnabled(idArg string, enabled bool) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid trigger id %q", idArg)
	}

	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()
	return trigger.NewStore(database).SetEnabled(id, enabled)
}
