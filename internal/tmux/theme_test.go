package tmux

import (
	"testing"

	"github.com/claudeos/cos/internal/constants"
)

func TestAssignThemeStable(t *testing.T) {
	first := AssignTheme("researcher")
	for i := 0; i < 5; i++ {
		if got := AssignTheme("researcher"); got != first {
			t.Fatalf("AssignTheme not stable: %+v vs %+v", got, first)
		}
	}
}

func TestThemeForSession(t *testing.T) {
	if got := ThemeForSession(constants.RoleChief, constants.ModeInteractive); got.Name != "chief" {
		t.Errorf("chief theme = %q", got.Name)
	}
	if got := ThemeForSession("researcher", constants.ModeSummarizer); got.Name != "summarizer" {
		t.Errorf("summarizer theme = %q", got.Name)
	}
	got := ThemeForSession("researcher", constants.ModeInteractive)
	if got.Name == "chief" || got.Name == "summarizer" {
		t.Errorf("specialist got reserved theme %q", got.Name)
	}
}

func TestThemeStyle(t *testing.T) {
	th := Theme{Name: "x", BG: "#111111", FG: "#eeeeee"}
	if got := th.Style(); got != "bg=#111111,fg=#eeeeee" {
		t.Errorf("Style() = %q", got)
	}
}
