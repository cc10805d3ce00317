package session

import (
	"strings"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/util"
)

// WindowName derives the tmux window name for a session. The chief role
// always gets the configured chief window so the user's anchor never moves;
// everyone else gets "<role>-<shortid>" so windows stay tellable apart.
func WindowName(role, sessionID, chiefWindow string) string {
	if role == constants.RoleChief {
		if chiefWindow != "" {
			return chiefWindow
		}
		return constants.ChiefWindow
	}
	slug := util.Slugify(role)
	if sessionID == "" {
		return slug
	}
	return slug + "-" + sessionID
}

// RoleFromWindow recovers the role slug from a window name produced by
// WindowName. The chief window maps to the chief role; anything else drops
// the trailing short id when one is present.
func RoleFromWindow(window, chiefWindow string) string {
	if window == chiefWindow || window == constants.ChiefWindow {
		return constants.RoleChief
	}
	i := strings.LastIndex(window, "-")
	if i <= 0 {
		return window
	}
	tail := window[i+1:]
	if len(tail) == 8 && isHex(tail) {
		return window[:i]
	}
	return window
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return len(s) > 0
}
