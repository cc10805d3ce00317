// Package ui centralizes terminal capability detection for CLI output.
package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects NO_COLOR (https://no-color.org/), CLICOLOR, and CLICOLOR_FORCE.
func ShouldUseColor() bool {
	// NO_COLOR and CLICOLOR=0 both disable color
	if termenv.EnvNoColor() {
		return false
	}

	// CLICOLOR_FORCE enables color even in non-TTY
	if _, exists := os.LookupEnv("CLICOLOR_FORCE"); exists {
		return true
	}

	return IsTerminal()
}

// IsAgentMode returns true when the CLI is being driven by an agent rather
// than a human. Agent output stays plain and compact: most cos invocations
// come from Claude sessions, not operators.
func IsAgentMode() bool {
	if os.Getenv("COS_AGENT_MODE") == "1" {
		return true
	}
	// A cos call made from inside a registered session is agent traffic.
	if os.Getenv("CLAUDE_SESSION_ID") != "" {
		return true
	}
	return false
}
