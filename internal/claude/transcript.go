package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Turn is one rendered exchange from a session transcript.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// transcriptLine is the subset of a Claude Code transcript entry we read.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"` // tool_use
}

// TranscriptPath returns where Claude Code writes the JSONL transcript for a
// session started in cwd. The project directory is the cwd with every path
// separator and dot flattened to dashes.
func TranscriptPath(home, cwd, sessionUUID string) string {
	slug := strings.NewReplacer("/", "-", ".", "-", "_", "-").Replace(cwd)
	return filepath.Join(home, ".claude", "projects", slug, sessionUUID+".jsonl")
}

// ReadTranscript parses a transcript file into conversation turns. Tool
// invocations surface as bracketed markers so a summarizer can see what the
// session did, not just what it said. Unparseable lines are skipped; a
// transcript is appended live and the last line is often truncated.
func ReadTranscript(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "user" && line.Type != "assistant" {
			continue
		}
		text := renderContent(line.Message.Content)
		if text == "" {
			continue
		}
		turns = append(turns, Turn{Role: line.Type, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return turns, fmt.Errorf("read transcript: %w", err)
	}
	return turns, nil
}

// renderContent handles both content shapes: a bare string (old user turns)
// and a block list.
func renderContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		case "tool_use":
			if b.Name != "" {
				parts = append(parts, "[used "+b.Name+"]")
			}
		}
	}
	return strings.Join(parts, "\n")
}

// RenderConversation flattens turns into the text a summarizer reads. When
// the result would exceed maxChars, the oldest turns are dropped first; the
// recent end of a conversation is what a handoff needs.
func RenderConversation(turns []Turn, maxChars int) string {
	render := func(ts []Turn) string {
		var b strings.Builder
		for i, t := range ts {
			if i > 0 {
				b.WriteString("\n\n")
			}
			switch t.Role {
			case "user":
				b.WriteString("User:\n")
			default:
				b.WriteString("Assistant:\n")
			}
			b.WriteString(t.Text)
		}
		return b.String()
	}

	out := render(turns)
	if maxChars <= 0 || len(out) <= maxChars {
		return out
	}
	const trimmedNote = "[earlier conversation trimmed]\n\n"
	for len(turns) > 1 && len(out)+len(trimmedNote) > maxChars {
		turns = turns[1:]
		out = render(turns)
	}
	return trimmedNote + out
}
