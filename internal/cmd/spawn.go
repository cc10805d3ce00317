package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/session"
	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/tmux"
	"github.com/claudeos/cos/internal/util"
)

var spawnCmd = &cobra.Command{
	Use:     "spawn <role>",
	GroupID: GroupSessions,
	Short:   "Spawn an agent in a new tmux window",
	Long: `Spawn an agent for a role defined under .claude/roles.

The chief role always lands in the configured chief window; other roles
get a window named <role>-<short-id>. The agent registers itself through
its session-start hook once it boots.`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawn,
}

var (
	spawnMode        string
	spawnDescription string
	spawnPrompt      string
	spawnSpecPath    string
	spawnReplace     bool
)

func init() {
	spawnCmd.Flags().StringVar(&spawnMode, "mode", constants.ModeInteractive,
		"Session mode (interactive, background, autonomous)")
	spawnCmd.Flags().StringVar(&spawnDescription, "description", "", "Short purpose line")
	spawnCmd.Flags().StringVar(&spawnPrompt, "prompt", "", "Initial prompt for the agent")
	spawnCmd.Flags().StringVar(&spawnSpecPath, "spec", "", "Spec file the agent should read")
	spawnCmd.Flags().BoolVar(&spawnReplace, "replace", false, "Replace an existing window with the same name")
	rootCmd.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(root)
	if err != nil {
		return err
	}

	role := args[0]
	if _, err := session.LoadRole(root, role); err != nil {
		return fmt.Errorf("unknown role %q: %w", role, err)
	}

	sessionID := util.NewSessionID()
	prompt := spawnPrompt
	if prompt == "" {
		prompt = session.StartupPrompt(session.Beacon{
			SessionID: sessionID,
			Role:      role,
			Topic:     "cold-start",
		}, "")
	}

	result, err := session.Spawn(tmux.NewTmux(), cfg, root, session.SpawnConfig{
		SessionID:   sessionID,
		Role:        role,
		Mode:        spawnMode,
		Description: spawnDescription,
		SpecPath:    spawnSpecPath,
		Prompt:      prompt,
		Replace:     spawnReplace,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s spawned %s as %s in %s (pane %s)\n",
		style.Good.Render("✓"), role, sessionID, result.WindowName, result.Pane)
	return nil
}
