// Package constants defines shared names, timings, and filesystem layout
// used across the runtime. Keep this package dependency-free.
package constants

import (
	"path/filepath"
	"time"
)

// Environment variables read by the session-registration hook and set on
// every agent spawn.
const (
	EnvSessionID          = "CLAUDE_SESSION_ID"
	EnvSessionRole        = "CLAUDE_SESSION_ROLE"
	EnvSessionMode        = "CLAUDE_SESSION_MODE"
	EnvSessionDescription = "CLAUDE_SESSION_DESCRIPTION"
	EnvConversationID     = "CLAUDE_CONVERSATION_ID"
	EnvParentSessionID    = "CLAUDE_PARENT_SESSION_ID"
	EnvMissionExecutionID = "MISSION_EXECUTION_ID"
	EnvSpecPath           = "SPEC_PATH"

	// EnvTmuxPane is supplied by tmux itself, never by us.
	EnvTmuxPane = "TMUX_PANE"
)

// ConversationChief is the reserved, eternal conversation id for the
// user-facing Chief session. At most one live session may claim it.
const ConversationChief = "chief"

// RoleChief is the only role name with reserved semantics.
const RoleChief = "chief"

// Session modes. Interactive panes have an operator watching; the rest run
// unattended and get earlier context warnings.
const (
	ModeInteractive = "interactive"
	ModeBackground  = "background"
	ModeAutonomous  = "autonomous"
	ModeMission     = "mission"
	ModeSummarizer  = "summarizer"
)

// Poll cadences and settle delays.
const (
	MonitorPollInterval = 30 * time.Second
	DutyPollInterval    = 30 * time.Second
	TriggerPollInterval = 30 * time.Second
	WatchDebounce       = 500 * time.Millisecond
	TmuxTimeout         = 5 * time.Second
	PreKillWait         = 3 * time.Second
	EscapeSettle        = 200 * time.Millisecond
	LoopDrainTimeout    = 30 * time.Second
)

// Context thresholds. Autonomous modes (background, mission, autonomous)
// warn AutonomousShift points earlier because no operator is watching.
const (
	ContextWarnThreshold = 90
	AutonomousShift      = 10
)

// DefaultTimezone is the wall-clock zone for duty and trigger schedules.
const DefaultTimezone = "America/Los_Angeles"

// DefaultTmuxSession is the tmux session hosting the Chief window.
const (
	DefaultTmuxSession = "life"
	ChiefWindow        = "chief"
)

// Injected message prefixes. Agents key on these to distinguish runtime
// traffic from human input.
const (
	NotifyPrefix = "[CLAUDE OS SYS: NOTIFICATION]"
	WarnPrefix   = "[CLAUDE OS SYS: WARNING]"
	ActionPrefix = "[CLAUDE OS SYS: ACTION]"
)

// Session end reasons.
const (
	EndReasonHandoff         = "handoff"
	EndReasonPaneReused      = "pane_reused"
	EndReasonDone            = "done"
	EndReasonChiefSuperseded = "chief_superseded"
)

// Handoff reason codes.
const (
	ReasonContextLow           = "context_low"
	ReasonEmergencyContextFull = "emergency_context_full"
	ReasonPaneReused           = "pane_reused"
)

// Workspace layout relative to the runtime root.
const (
	EngineDir        = ".engine"
	StateDirName     = "state"
	DataDirName      = "data"
	DBFileName       = "system.db"
	DaemonLockName   = "daemon.lock"
	DaemonPIDName    = "daemon.pid"
	DaemonLogName    = "daemon.log"
	EventsFeedName   = "events.jsonl"
	DesktopDir       = "Desktop"
	ConversationsDir = "conversations"
	WorkingDir       = "working"
	RolesDir         = ".claude/roles"
	ReplyFileName    = "reply.txt"
	SystemIndexName  = "SYSTEM-INDEX.md"
)

// IndexTriggerFiles are base names whose changes refresh SYSTEM-INDEX.md.
var IndexTriggerFiles = map[string]bool{
	"LIFE-SPEC.md":   true,
	"APP-SPEC.md":    true,
	"SYSTEM-SPEC.md": true,
	"manifest.yaml":  true,
	"role.md":        true,
}

// EngineStateDir returns <root>/.engine/state.
func EngineStateDir(root string) string {
	return filepath.Join(root, EngineDir, StateDirName)
}

// DatabasePath returns <root>/.engine/data/db/system.db.
func DatabasePath(root string) string {
	return filepath.Join(root, EngineDir, DataDirName, "db", DBFileName)
}

// ConversationsPath returns <root>/Desktop/conversations.
func ConversationsPath(root string) string {
	return filepath.Join(root, DesktopDir, ConversationsDir)
}

// ReplyPath returns the reply channel file for a conversation.
func ReplyPath(root, conversationID string) string {
	return filepath.Join(ConversationsPath(root), conversationID, ReplyFileName)
}

// WorkingPath returns the specialist workspace for a session short id.
func WorkingPath(root, shortID string) string {
	return filepath.Join(root, DesktopDir, WorkingDir, shortID)
}

// RolePath returns the directory holding a role's definition files.
func RolePath(root, role string) string {
	return filepath.Join(root, RolesDir, role)
}
