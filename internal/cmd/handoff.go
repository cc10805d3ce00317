package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/handoff"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/tmux"
)

var handoffCmd = &cobra.Command{
	Use:     "handoff",
	GroupID: GroupSessions,
	Short:   "Hand the calling session off to a fresh successor",
	Long: `Request a handoff for the current session.

A summarizer condenses the conversation into a handoff file, the pane is
killed, and a successor spawns with the same conversation identity. With
--summary the summarizer is skipped and the given text becomes the
handoff content.`,
	RunE: runHandoffRequest,
}

var handoffListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent handoffs",
	RunE:  runHandoffList,
}

var handoffExecCmd = &cobra.Command{
	Use:    "exec <handoff-id>",
	Short:  "Execute a pending handoff (internal)",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   runHandoffExec,
}

var handoffSummary string

func init() {
	handoffCmd.Flags().StringVar(&handoffSummary, "summary", "",
		"Inline handoff content; skips the summarizer")
	handoffCmd.AddCommand(handoffListCmd)
	handoffCmd.AddCommand(handoffExecCmd)
	rootCmd.AddCommand(handoffCmd)
}

func runHandoffRequest(cmd *cobra.Command, args []string) error {
	root, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	bus := eventbus.New()
	reg := registry.New(database, bus)
	s, err := currentSession(reg)
	if err != nil {
		return err
	}

	pipeline := handoff.NewPipeline(handoff.NewStore(database), reg, bus, root)
	h, err := pipeline.Request(handoff.RequestParams{
		SessionID: s.SessionID,
		Reason:    constants.ReasonContextLow,
		Summary:   handoffSummary,
	})
	if err != nil {
		return err
	}
	fmt.Printf("handoff %s requested; this session will be replaced shortly\n", h.ID)
	return nil
}

func runHandoffList(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	store := handoff.NewStore(database)
	handoffs, err := store.Recent(20)
	if err != nil {
		return err
	}
	if len(handoffs) == 0 {
		fmt.Println("No handoffs.")
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "ID", Width: 10},
		style.Column{Name: "SESSION", Width: 10},
		style.Column{Name: "ROLE", Width: 12},
		style.Column{Name: "REASON", Width: 22},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "SUCCESSOR", Width: 10},
	)
	for _, h := range handoffs {
		table.AddRow(
			h.ID,
			h.SessionID,
			h.Role,
			strings.ReplaceAll(h.Reason, "_", " "),
			style.HandoffStatus(h.Status),
			h.NewSessionID,
		)
	}
	fmt.Print(table.Render())
	return nil
}

func runHandoffExec(cmd *cobra.Command, args []string) error {
	root, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	cfg, err := config.Resolve(root)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	reg := registry.New(database, bus)
	tm := tmux.NewTmux()
	executor := handoff.NewExecutor(handoff.NewStore(database), reg, bus, cfg, root, tm, tm, nil)
	return executor.Execute(args[0])
}
