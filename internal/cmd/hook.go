package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/claude"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/session"
)

var hookCmd = &cobra.Command{
	Use:     "hook",
	GroupID: GroupSessions,
	Short:   "Claude Code lifecycle hooks (internal)",
	Hidden:  true,
	RunE:    requireSubcommand,
}

var hookSessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Register the starting session",
	RunE:  runHookSessionStart,
}

var hookSessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Record the ending session",
	RunE:  runHookSessionEnd,
}

var hookIdleCmd = &cobra.Command{
	Use:   "idle",
	Short: "Mark the session idle between turns",
	RunE:  runHookIdle,
}

func init() {
	hookCmd.AddCommand(hookSessionStartCmd)
	hookCmd.AddCommand(hookSessionEndCmd)
	hookCmd.AddCommand(hookIdleCmd)
	rootCmd.AddCommand(hookCmd)
}

// Hooks never fail the agent: a broken payload or database hiccup exits 0
// after best effort. Claude Code treats a non-zero hook as a session error,
// which would take down the very session we are trying to track.

func runHookSessionStart(cmd *cobra.Command, args []string) error {
	id := session.FromEnv()
	if !id.Registered() {
		// Not one of ours: a bare claude launched outside the runtime.
		return nil
	}

	input, err := claude.ReadHookInput(os.Stdin)
	if err != nil {
		input = &claude.HookInput{}
	}

	_, database, err := openWorkspaceDB()
	if err != nil {
		return nil
	}
	defer database.Close()

	reg := registry.New(database, eventbus.New())
	if id.Pane != "" {
		// The pane may still be registered to the session that died here.
		_ = reg.ReconcilePane(id.Pane, id.SessionID)
	}
	_, _ = reg.Register(registry.RegisterParams{
		SessionID:          id.SessionID,
		ClaudeSessionUUID:  input.SessionID,
		Role:               id.Role,
		Mode:               id.Mode,
		Pane:               id.Pane,
		TranscriptPath:     input.TranscriptPath,
		ConversationID:     id.ConversationID,
		ParentSessionID:    id.ParentSessionID,
		MissionExecutionID: id.MissionExecutionID,
		Cwd:                input.Cwd,
		Description:        id.Description,
		SpecPath:           id.SpecPath,
	})
	return nil
}

func runHookSessionEnd(cmd *cobra.Command, args []string) error {
	id := session.FromEnv()
	if !id.Registered() {
		return nil
	}

	input, err := claude.ReadHookInput(os.Stdin)
	if err != nil {
		input = &claude.HookInput{}
	}

	_, database, err := openWorkspaceDB()
	if err != nil {
		return nil
	}
	defer database.Close()

	reg := registry.New(database, eventbus.New())
	// "clear" restarts the conversation in place; anything else is the
	// process going away. Idle keeps the row alive for the restart.
	if input.Reason == "clear" {
		_ = reg.MarkIdle(id.SessionID)
	} else {
		_ = reg.End(id.SessionID, constants.EndReasonDone)
	}
	return nil
}

// runHookIdle fires on the Stop hook in autonomous settings: the agent
// finished a turn and is waiting for the next stimulus.
func runHookIdle(cmd *cobra.Command, args []string) error {
	id := session.FromEnv()
	if !id.Registered() {
		return nil
	}

	_, database, err := openWorkspaceDB()
	if err != nil {
		return nil
	}
	defer database.Close()

	_ = registry.New(database, eventbus.New()).MarkIdle(id.SessionID)
	return nil
}
