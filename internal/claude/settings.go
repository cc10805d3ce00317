package claude

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/claudeos/cos/internal/constants"
)

//go:embed config/*.json
var configFS embed.FS

// SessionType splits sessions by whether an operator is watching the pane.
type SessionType string

const (
	// Autonomous sessions run unattended. They get a Stop hook so the
	// daemon hears when the agent goes idle instead of a human noticing.
	Autonomous SessionType = "autonomous"

	// Interactive sessions have a user in the pane; idleness is visible.
	Interactive SessionType = "interactive"
)

// TypeForMode maps a session mode to its settings template.
func TypeForMode(mode string) SessionType {
	switch mode {
	case constants.ModeBackground, constants.ModeAutonomous, constants.ModeMission:
		return Autonomous
	default:
		return Interactive
	}
}

// EnsureSettings makes sure workDir/.claude/settings.json exists, writing
// the template for the session type when absent. An existing file is never
// touched; users own their settings once written.
func EnsureSettings(workDir string, st SessionType) error {
	return EnsureSettingsAt(workDir, st, ".claude", "settings.json")
}

// EnsureSettingsAt is EnsureSettings with the settings location exposed.
func EnsureSettingsAt(workDir string, st SessionType, dir, file string) error {
	settingsDir := filepath.Join(workDir, dir)
	settingsPath := filepath.Join(settingsDir, file)

	if _, err := os.Stat(settingsPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(settingsDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", settingsDir, err)
	}

	templateName := "config/settings-interactive.json"
	if st == Autonomous {
		templateName = "config/settings-autonomous.json"
	}
	content, err := configFS.ReadFile(templateName)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", templateName, err)
	}

	if err := os.WriteFile(settingsPath, content, 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// EnsureSettingsForMode combines TypeForMode and EnsureSettings.
func EnsureSettingsForMode(workDir, mode string) error {
	return EnsureSettings(workDir, TypeForMode(mode))
}
