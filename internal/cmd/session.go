package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/handoff"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/session"
	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/tmux"
	"github.com/claudeos/cos/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	GroupID: GroupSessions,
	Short:   "Inspect and manage agent sessions",
	RunE:    requireSubcommand,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <text>",
	Short: "Set the calling session's status line",
	Long: `Set the one-line status for the current session.

Meant to be called by agents; the session is resolved from the
environment contract, falling back to the pane.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSessionStatus,
}

var sessionSubscribeCmd = &cobra.Command{
	Use:   "subscribe <session-id>",
	Short: "Route a specialist's replies to the calling session's pane",
	Long: `Subscribe the calling session to a specialist's replies.

New entries in the specialist's reply.txt are injected into the
subscriber's pane as notifications, each exactly once.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionSubscribe,
}

var sessionDoneCmd = &cobra.Command{
	Use:   "done",
	Short: "End the calling session cleanly",
	Long: `Close out the current session.

The session row is ended, the Chief gets a non-destructive status-line
notification, and the pane is killed last so this command gets to
finish.`,
	RunE: runSessionDone,
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Hand the calling session off to a fresh successor",
	Long: `Request a context reset for the current session.

A handoff row is created and the executor is launched out of process;
this session keeps running until the executor kills its pane, so wind
down immediately. With --summary the summarizer is skipped; with --file
the successor is pointed at notes you already keep.`,
	RunE: runSessionReset,
}

var (
	sessionDoneSummary  string
	sessionResetSummary string
	sessionResetFile    string
)

func init() {
	sessionDoneCmd.Flags().StringVar(&sessionDoneSummary, "summary", "",
		"One-liner shown to the Chief")
	sessionResetCmd.Flags().StringVar(&sessionResetSummary, "summary", "",
		"Inline handoff content; skips the summarizer")
	sessionResetCmd.Flags().StringVar(&sessionResetFile, "file", "",
		"Existing notes file for the successor instead of a generated one")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionSubscribeCmd)
	sessionCmd.AddCommand(sessionDoneCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	rootCmd.AddCommand(sessionCmd)
}

// currentSession resolves the session the command runs inside: environment
// contract first, then the pane.
func currentSession(reg *registry.Registry) (*registry.Session, error) {
	id := session.FromEnv()
	if id.Registered() {
		s, err := reg.Get(id.SessionID)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	if id.Pane != "" {
		s, err := reg.GetByPane(id.Pane)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no registered session for this pane (is the session-start hook installed?)")
}

var roleTitle = cases.Title(language.English)

func runSessionList(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	reg := registry.New(database, nil)
	sessions, err := reg.LiveSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No live sessions.")
		return nil
	}

	if ui.IsAgentMode() {
		for _, s := range sessions {
			fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n",
				s.SessionID, s.Role, s.Mode, s.CurrentState, s.TmuxPane, s.StatusText)
		}
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "SESSION", Width: 10},
		style.Column{Name: "ROLE", Width: 12},
		style.Column{Name: "MODE", Width: 11},
		style.Column{Name: "STATE", Width: 8},
		style.Column{Name: "PANE", Width: 8},
		style.Column{Name: "CTX", Width: 6},
		style.Column{Name: "STATUS", Width: 32},
	)
	for _, s := range sessions {
		ctx := ""
		if s.ContextWarningLevel > 0 {
			ctx = style.ContextGauge(s.ContextWarningLevel)
		}
		table.AddRow(
			s.SessionID,
			roleTitle.String(s.Role),
			s.Mode,
			style.State(s.CurrentState),
			s.TmuxPane,
			ctx,
			s.StatusText,
		)
	}
	fmt.Print(table.Render())
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	reg := registry.New(database, nil)
	s, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("no session %q", args[0])
	}

	fmt.Printf("%s %s\n", style.Header.Render("Session"), s.SessionID)
	fmt.Printf("  role:         %s (%s)\n", s.Role, s.Mode)
	fmt.Printf("  state:        %s\n", style.State(s.CurrentState))
	fmt.Printf("  pane:         %s\n", s.TmuxPane)
	fmt.Printf("  conversation: %s\n", s.ConversationID)
	if s.ParentSessionID != "" {
		fmt.Printf("  parent:       %s\n", s.ParentSessionID)
	}
	if s.MissionExecutionID != "" {
		fmt.Printf("  mission exec: %s\n", s.MissionExecutionID)
	}
	if s.Description != "" {
		fmt.Printf("  description:  %s\n", s.Description)
	}
	if s.StatusText != "" {
		fmt.Printf("  status:       %s\n", s.StatusText)
	}
	if s.ContextWarningLevel > 0 {
		fmt.Printf("  ctx warned:   %s\n", style.ContextGauge(s.ContextWarningLevel))
	}
	fmt.Printf("  started:      %s\n", s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !s.EndedAt.IsZero() {
		fmt.Printf("  ended:        %s (%s)\n",
			s.EndedAt.Local().Format("2006-01-02 15:04:05"), s.EndReason)
	}
	return nil
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	reg := registry.New(database, nil)
	s, err := currentSession(reg)
	if err != nil {
		return err
	}
	return reg.MarkActive(s.SessionID, strings.Join(args, " "))
}

func runSessionSubscribe(cmd *cobra.Command, args []string) error {
	_, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	reg := registry.New(database, nil)
	self, err := currentSession(reg)
	if err != nil {
		return err
	}
	specialist, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	if specialist == nil || !specialist.Live() {
		return fmt.Errorf("no live session %q", args[0])
	}
	if err := reg.Subscribe(specialist.SessionID, self.SessionID); err != nil {
		return err
	}
	fmt.Printf("subscribed to %s (%s) replies\n", specialist.SessionID, specialist.Role)
	return nil
}

func runSessionDone(cmd *cobra.Command, args []string) error {
	root, database, err := openWorkspaceDB()
	if err != nil {
		return err
	}
	defer database.Close()

	reg := registry.New(database, eventbus.New())
	s, err := currentSession(reg)
	if err != nil {
		return err
	}
	if err := reg.End(s.SessionID, constants.EndReasonDone); err != nil {
		return err
	}
	fmt.Printf("session %s ended\n", s.SessionID)

	tm := tmux.NewTmux()
	if s.Role != constants.RoleChief && !s.HasPinged {
		if cfg, cerr := config.Resolve(root); cerr == nil {
			note := fmt.Sprintf("%s complete", roleTitle.String(s.Role))
			if sessionDoneSummary != "" {
				note = fmt.Sprintf("%s complete: %s", roleTitle.String(s.Role), sessionDoneSummary)
			}
			// Overlay only; never lands in the Chief's input line.
			if tm.DisplayMessage(cfg.ChiefTarget(), note) == nil {
				_ = reg.MarkPinged(s.SessionID)
			}
		}
	}

	// Kill our own pane last; nothing after this line runs.
	if s.TmuxPane != "" {
		_ = tm.KillPane(s.TmuxPane)
	}
	return nil
}

func runSessionReset(cmd *cobra.Command, args []string) error {
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
		Summary:   sessionResetSummary,
		File:      sessionResetFile,
	})
	if err != nil {
		return err
	}
	fmt.Printf("handoff %s requested; wind down now, your pane will be replaced\n", h.ID)
	return nil
}
