package handoff

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/util"
)

// TemplatePath returns the handoff file location inside a session's working
// directory. One file per handoff so a session that hands off twice keeps
// both records.
func TemplatePath(root, shortID, handoffID string) string {
	return filepath.Join(constants.WorkingPath(root, shortID), "handoff-"+handoffID+".md")
}

// WriteTemplate writes the handoff scaffold the summarizer fills in. The
// labeled sections and HTML-comment placeholders survive a summarizer
// failure, so the replacement always has at least the section headings and
// the identity block to orient by.
func WriteTemplate(path string, h *Handoff) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating handoff dir: %w", err)
	}
	content := scaffold(h)
	if err := util.AtomicWriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing handoff template: %w", err)
	}
	return nil
}

func scaffold(h *Handoff) string {
	return fmt.Sprintf(`# Handoff — %s (%s)

- Session: %s
- Conversation: %s
- Reason: %s
- Requested: %s

## What was happening

<!-- Narrative of the work in flight when this session ran out of context.
     Write for a successor that has read nothing: name the task, the goal,
     and how far it got. -->

## Resume posture

<!-- One of: "resume autonomously" or "wait for the user", with the single
     sentence of why. -->

## Files touched

<!-- Each file the session created or modified, with its current state
     (done, mid-edit, needs review). -->

## Next action

<!-- The one concrete thing the successor should do first. -->
`,
		h.Role, h.Mode, h.SessionID, h.ConversationID, h.Reason,
		time.Now().Format(time.RFC3339))
}

// WriteInlineContent replaces the scaffold body with caller-provided summary
// text. Used when the dying agent already wrote its own summary and no
// summarizer run is needed.
func WriteInlineContent(path string, h *Handoff) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating handoff dir: %w", err)
	}
	content := fmt.Sprintf("# Handoff — %s (%s)\n\n- Session: %s\n- Conversation: %s\n- Reason: %s\n\n%s\n",
		h.Role, h.Mode, h.SessionID, h.ConversationID, h.Reason, h.HandoffContent)
	if err := util.AtomicWriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing handoff content: %w", err)
	}
	return nil
}
