package session

import (
	"fmt"
	"time"
)

// Beacon identifies a spawned session in its opening prompt. The line shows
// up in the agent CLI's resume picker, which is how a replacement finds its
// predecessor and how an operator tells sessions apart after a crash.
type Beacon struct {
	// Role and SessionID identify the agent.
	Role      string
	SessionID string

	// Topic says why the session was started: "cold-start", "handoff",
	// "mission", or a duty slug.
	Topic string
}

// FormatBeacon builds the beacon line.
//
// Format: [CLAUDE OS] <role> (<id>) • <timestamp> • <topic>
func FormatBeacon(b Beacon) string {
	topic := b.Topic
	if topic == "" {
		topic = "ready"
	}
	return fmt.Sprintf("[CLAUDE OS] %s (%s) • %s • %s",
		b.Role, b.SessionID, time.Now().Format("2006-01-02T15:04"), topic)
}

// StartupPrompt combines the beacon with startup instructions.
func StartupPrompt(b Beacon, instructions string) string {
	if instructions == "" {
		return FormatBeacon(b)
	}
	return FormatBeacon(b) + "\n\n" + instructions
}

// HandoffInstructions tells a replacement session how to resume its
// predecessor's work from the filled handoff file.
func HandoffInstructions(specPath string) string {
	return fmt.Sprintf(
		"You are continuing a previous session that ran out of context. "+
			"Read your handoff file at %s for the conversation summary, "+
			"current state, and next steps, then pick up the work where it left off. "+
			"Do not mention the handoff unless asked.", specPath)
}
