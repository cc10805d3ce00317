package session

import (
	"os"

	"github.com/claudeos/cos/internal/constants"
)

// Identity is what the environment contract says about the current agent.
// Lifecycle commands running inside a pane read this to answer "who am I";
// when SessionID is empty the caller falls back to a pane lookup through
// the registry.
type Identity struct {
	SessionID          string
	Role               string
	Mode               string
	Description        string
	ConversationID     string
	ParentSessionID    string
	MissionExecutionID string
	SpecPath           string

	// Pane is TMUX_PANE, set by the multiplexer itself.
	Pane string
}

// FromEnv reads the environment contract from the current process.
func FromEnv() Identity {
	return Identity{
		SessionID:          os.Getenv(constants.EnvSessionID),
		Role:               os.Getenv(constants.EnvSessionRole),
		Mode:               os.Getenv(constants.EnvSessionMode),
		Description:        os.Getenv(constants.EnvSessionDescription),
		ConversationID:     os.Getenv(constants.EnvConversationID),
		ParentSessionID:    os.Getenv(constants.EnvParentSessionID),
		MissionExecutionID: os.Getenv(constants.EnvMissionExecutionID),
		SpecPath:           os.Getenv(constants.EnvSpecPath),
		Pane:               os.Getenv(constants.EnvTmuxPane),
	}
}

// Registered reports whether the environment carries a session id.
func (id Identity) Registered() bool { return id.SessionID != "" }
