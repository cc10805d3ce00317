package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewSessionID returns a locally-unique 8-character lowercase hex id.
// Session ids are short because they appear in window titles, file paths,
// and injected messages read by humans.
func NewSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the host is broken; fall back to uuid
		return uuid.NewString()[:8]
	}
	return hex.EncodeToString(b)
}

// NewBufferName returns a unique tmux paste-buffer name. Named buffers keep
// concurrent injections to different panes from clobbering each other.
func NewBufferName() string {
	return fmt.Sprintf("inject-%s", uuid.NewString())
}

// NewID returns a full UUID string for handoff and execution rows.
func NewID() string {
	return uuid.NewString()
}
