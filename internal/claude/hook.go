package claude

import (
	"encoding/json"
	"fmt"
	"io"
)

// HookInput is the JSON Claude Code pipes to a hook command on stdin. Only
// the fields the registration hooks consume are declared.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	Source         string `json:"source"` // SessionStart: startup|resume|clear
	Reason         string `json:"reason"` // SessionEnd
}

// ReadHookInput decodes a hook payload from stdin.
func ReadHookInput(r io.Reader) (*HookInput, error) {
	var in HookInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode hook input: %w", err)
	}
	return &in, nil
}
