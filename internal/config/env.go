package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/claudeos/cos/internal/constants"
)

// SessionEnvConfig specifies the environment contract for a spawned agent.
// This is the single source of truth for agent environment variables: the
// session-registration hook reads back exactly what this produces.
type SessionEnvConfig struct {
	// SessionID is the pre-assigned 8-char session id.
	SessionID string

	// Role is the agent role (chief, researcher, writer, ...).
	Role string

	// Mode selects the behavior profile within the role. Empty means the
	// role's default interactive mode.
	Mode string

	// Description is a short human-readable purpose line.
	Description string

	// ConversationID is the stable identity inherited across handoffs.
	ConversationID string

	// ParentSessionID links a replacement to the session it succeeds.
	ParentSessionID string

	// MissionExecutionID ties a headless agent to its execution row.
	MissionExecutionID string

	// SpecPath points the replacement at its handoff file.
	SpecPath string
}

// SessionEnv returns the environment variables for an agent spawn.
// Empty fields are omitted so they never clobber pane-inherited values.
func SessionEnv(cfg SessionEnvConfig) map[string]string {
	env := make(map[string]string)

	set := func(key, value string) {
		if value != "" {
			env[key] = value
		}
	}

	set(constants.EnvSessionID, cfg.SessionID)
	set(constants.EnvSessionRole, cfg.Role)
	set(constants.EnvSessionMode, cfg.Mode)
	set(constants.EnvSessionDescription, cfg.Description)
	set(constants.EnvConversationID, cfg.ConversationID)
	set(constants.EnvParentSessionID, cfg.ParentSessionID)
	set(constants.EnvMissionExecutionID, cfg.MissionExecutionID)
	set(constants.EnvSpecPath, cfg.SpecPath)

	return env
}

// ExportPrefix builds an export statement prefix for shell commands.
// Returns a string like "export CLAUDE_SESSION_ID=ab12cd34 && ".
// The keys are sorted for deterministic output.
func ExportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, ShellQuote(env[k])))
	}

	return "export " + strings.Join(parts, " ") + " && "
}

// BuildStartupCommand combines the export prefix with the agent command and
// an optional initial prompt passed as the final argument.
func BuildStartupCommand(env map[string]string, agentCmd, prompt string) string {
	prefix := ExportPrefix(env)

	if prompt != "" {
		return prefix + agentCmd + " " + ShellQuote(prompt)
	}
	return prefix + agentCmd
}

// ShellQuote wraps a value in single quotes for safe use in shell commands.
// Prompts routinely contain $, backticks, and newlines; single quotes keep
// the shell from touching any of it. Empty values become '' to preserve the
// argument.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	needsQuoting := false
	for _, c := range s {
		switch c {
		case ' ', '\t', '\n', '"', '\'', '`', '$', '\\', '!', '*', '?',
			'[', ']', '{', '}', '(', ')', '<', '>', '|', '&', ';', '#',
			'%', ',', '=':
			needsQuoting = true
		}
		if needsQuoting {
			break
		}
	}
	if !needsQuoting {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// MergeEnv merges multiple environment maps, with later maps taking precedence.
func MergeEnv(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// EnvForExecCommand returns os.Environ() with the given env vars appended.
// Useful for setting cmd.Env on exec.Command.
func EnvForExecCommand(env map[string]string) []string {
	result := os.Environ()
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}

// EnvToSlice converts an env map to a slice of "K=V" strings.
func EnvToSlice(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
