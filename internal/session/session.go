// Package session turns "run an agent as <role> in <mode>" into a live
// tmux pane carrying the environment contract the registration hook reads.
//
// Spawn unifies the startup pattern shared by cold boot, handoff
// replacements, and operator-started specialists: working directory
// scaffold, agent settings, environment, window creation, theme. Callers
// layer their own concerns (registration happens in the agent's own
// session-start hook, never here).
package session

import (
	"fmt"
	"os"

	"github.com/claudeos/cos/internal/claude"
	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/tmux"
)

// Multiplexer is the slice of the tmux driver that spawning needs.
// *tmux.Tmux implements it; tests substitute an in-memory fake.
type Multiplexer interface {
	EnsureSession(name, dir string) error
	WindowExists(session, window string) (bool, error)
	NewWindow(session, name, dir string, env map[string]string, command string) (string, error)
	KillWindow(session, window string) error
	SetPaneStyle(target, style string) error
}

// SpawnConfig describes an agent to put in a pane.
type SpawnConfig struct {
	// SessionID is the pre-assigned short id (util.NewSessionID).
	SessionID string

	// Role selects the agent's definition under .claude/roles.
	Role string

	// Mode selects the behavior profile. Empty means interactive.
	Mode string

	// Description is a short purpose line, surfaced in session listings.
	Description string

	// ConversationID is the identity inherited across handoffs. Empty
	// defaults to the chief conversation for the chief role, otherwise to
	// the session's own id.
	ConversationID string

	// ParentSessionID links a replacement to the session it succeeds.
	ParentSessionID string

	// MissionExecutionID ties the agent to a mission execution row.
	MissionExecutionID string

	// SpecPath points the agent at its spec or filled handoff file.
	SpecPath string

	// WindowName overrides the derived window name. The chief role always
	// lands in the configured chief window regardless.
	WindowName string

	// WorkDir overrides the default Desktop/working/<id> scaffold.
	WorkDir string

	// Prompt is the initial prompt passed to the agent command.
	Prompt string

	// Replace kills an existing window with the same name first. Without
	// it, a name collision is an error; tmux would happily create a second
	// window with the same name and make every later target ambiguous.
	Replace bool
}

// SpawnResult reports where the agent landed.
type SpawnResult struct {
	Pane       string
	WindowName string
	WorkDir    string
}

// Spawn creates a window running the agent command with the session's
// environment contract. The pane id comes back immediately; the agent
// registers itself through its session-start hook once it boots.
func Spawn(mux Multiplexer, cfg *config.Config, root string, sc SpawnConfig) (*SpawnResult, error) {
	if sc.SessionID == "" {
		return nil, fmt.Errorf("spawn: session id required")
	}
	if sc.Role == "" {
		return nil, fmt.Errorf("spawn: role required")
	}
	if sc.Mode == "" {
		sc.Mode = constants.ModeInteractive
	}
	if sc.ConversationID == "" {
		if sc.Role == constants.RoleChief {
			sc.ConversationID = constants.ConversationChief
		} else {
			sc.ConversationID = sc.SessionID
		}
	}

	windowName := sc.WindowName
	if windowName == "" {
		windowName = WindowName(sc.Role, sc.SessionID, cfg.Tmux.ChiefWindow)
	}

	workDir := sc.WorkDir
	if workDir == "" {
		var err error
		workDir, err = EnsureWorkingDir(root, sc.SessionID)
		if err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir %s: %w", workDir, err)
	}

	if err := claude.EnsureSettingsForMode(workDir, sc.Mode); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", sc.SessionID, err)
	}

	if err := mux.EnsureSession(cfg.Tmux.Session, root); err != nil {
		return nil, fmt.Errorf("ensuring tmux session %s: %w", cfg.Tmux.Session, err)
	}

	exists, err := mux.WindowExists(cfg.Tmux.Session, windowName)
	if err != nil {
		return nil, fmt.Errorf("checking window %s: %w", windowName, err)
	}
	if exists {
		if !sc.Replace {
			return nil, fmt.Errorf("window %s already exists in session %s", windowName, cfg.Tmux.Session)
		}
		if err := mux.KillWindow(cfg.Tmux.Session, windowName); err != nil {
			return nil, fmt.Errorf("replacing window %s: %w", windowName, err)
		}
	}

	env := config.SessionEnv(config.SessionEnvConfig{
		SessionID:          sc.SessionID,
		Role:               sc.Role,
		Mode:               sc.Mode,
		Description:        sc.Description,
		ConversationID:     sc.ConversationID,
		ParentSessionID:    sc.ParentSessionID,
		MissionExecutionID: sc.MissionExecutionID,
		SpecPath:           sc.SpecPath,
	})

	command := config.BuildStartupCommand(nil, agentCommand(cfg), sc.Prompt)

	pane, err := mux.NewWindow(cfg.Tmux.Session, windowName, workDir, env, command)
	if err != nil {
		return nil, fmt.Errorf("spawning %s window %s: %w", sc.Role, windowName, err)
	}

	// Cosmetic; a pane without its theme still works.
	theme := tmux.ThemeForSession(sc.Role, sc.Mode)
	_ = mux.SetPaneStyle(pane, theme.Style())

	return &SpawnResult{Pane: pane, WindowName: windowName, WorkDir: workDir}, nil
}

// EnsureWorkingDir creates and returns Desktop/working/<shortID>.
func EnsureWorkingDir(root, shortID string) (string, error) {
	dir := constants.WorkingPath(root, shortID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating working dir %s: %w", dir, err)
	}
	return dir, nil
}

// agentCommand assembles the configured agent binary and its fixed args.
func agentCommand(cfg *config.Config) string {
	cmd := cfg.Claude.Command
	for _, arg := range cfg.Claude.Args {
		cmd += " " + config.ShellQuote(arg)
	}
	return cmd
}
