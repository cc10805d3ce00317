package tmux

import (
	"hash/fnv"

	"github.com/claudeos/cos/internal/constants"
)

// Theme is the visual identity applied to an agent window so a user glancing
// at the session can tell roles apart.
type Theme struct {
	Name string
	BG   string // background (hex)
	FG   string // foreground (hex)
}

// Style returns the tmux window-style string, e.g. "bg=#1e3a5f,fg=#e0e0e0".
func (t Theme) Style() string {
	return "bg=" + t.BG + ",fg=" + t.FG
}

// Palette holds the themes assigned to specialist roles. Entries are chosen
// for contrast and mutual distinctness.
var Palette = []Theme{
	{Name: "ocean", BG: "#1e3a5f", FG: "#e0e0e0"},
	{Name: "forest", BG: "#2d5a3d", FG: "#e0e0e0"},
	{Name: "rust", BG: "#8b4513", FG: "#f5f5dc"},
	{Name: "plum", BG: "#4a3050", FG: "#e0e0e0"},
	{Name: "slate", BG: "#4a5568", FG: "#e0e0e0"},
	{Name: "ember", BG: "#b33a00", FG: "#f5f5dc"},
	{Name: "midnight", BG: "#1a1a2e", FG: "#c0c0c0"},
	{Name: "wine", BG: "#722f37", FG: "#f5f5dc"},
	{Name: "teal", BG: "#0d5c63", FG: "#e0e0e0"},
}

// ChiefTheme marks the user-facing Chief window. Gold on dark, used by no
// other role.
func ChiefTheme() Theme {
	return Theme{Name: "chief", BG: "#3d3200", FG: "#ffd700"}
}

// SummarizerTheme marks the short-lived handoff summarizer panes. Muted so
// they read as scaffolding, not a session to interact with.
func SummarizerTheme() Theme {
	return Theme{Name: "summarizer", BG: "#2a2a2a", FG: "#909090"}
}

// AssignTheme picks a palette theme by hashing the seed, so the same role
// always lands on the same color across spawns.
func AssignTheme(seed string) Theme {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return Palette[int(h.Sum32())%len(Palette)]
}

// ThemeForSession resolves the theme for a role and mode.
func ThemeForSession(role, mode string) Theme {
	switch {
	case role == constants.RoleChief:
		return ChiefTheme()
	case mode == constants.ModeSummarizer:
		return SummarizerTheme()
	default:
		return AssignTheme(role)
	}
}
