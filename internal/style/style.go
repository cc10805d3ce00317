// Package style provides consistent terminal styling using Lipgloss.
package style

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/claudeos/cos/internal/ui"
)

// Core styles used across CLI output. Render through these rather than
// raw ANSI so NO_COLOR and non-TTY output degrade cleanly.
var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	Good = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	Warn = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	Bad  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
)

func init() {
	if !ui.ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// State renders a session state with its conventional color.
func State(state string) string {
	switch state {
	case "active":
		return Good.Render(state)
	case "idle":
		return Info.Render(state)
	case "ended":
		return Dim.Render(state)
	default:
		return state
	}
}

// HandoffStatus renders a handoff status with its conventional color.
func HandoffStatus(status string) string {
	switch status {
	case "complete":
		return Good.Render(status)
	case "failed":
		return Bad.Render(status)
	case "executing":
		return Warn.Render(status)
	default:
		return Dim.Render(status)
	}
}

// ContextGauge renders a context-used percentage, escalating color as the
// window fills.
func ContextGauge(percentUsed int) string {
	text := fmt.Sprintf("%d%%", percentUsed)
	switch {
	case percentUsed >= 90:
		return Bad.Render(text)
	case percentUsed >= 80:
		return Warn.Render(text)
	default:
		return Good.Render(text)
	}
}
