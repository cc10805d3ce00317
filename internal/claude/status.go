// Package claude reads the observable surface of a Claude Code session: the
// pane buffer, the pane title, the JSONL transcript, and the hook payloads
// the agent delivers on lifecycle events. Everything here is read-only with
// respect to the agent itself.
package claude

import (
	"regexp"
	"strconv"
	"strings"
)

// Status is what a pane buffer and title reveal about a session. Zero values
// mean the signal was absent, never that the session is healthy; callers must
// treat ContextWarning=false as "no evidence", not "fine".
type Status struct {
	ContextWarning   bool   // a context-pressure line is on screen
	ContextRemaining int    // percent left, valid only with ContextWarning
	PercentUsed      int    // 100 - ContextRemaining, same validity
	ContextFull      bool   // at or past the terminal low-context state
	IsThinking       bool   // spinner with "esc to interrupt" visible
	ActiveTask       string // spinner task word, e.g. "Hatching"
	ElapsedTime      string // e.g. "2m 14s"
	TokenCount       string // e.g. "1.2k"
	Model            string // from the status line, non-authoritative
	CostUSD          float64
	LastTask         string // pane title, i.e. the last task Claude named
}

var (
	contextLowRe  = regexp.MustCompile(`Context low \((\d+)% remaining\)`)
	autoCompactRe = regexp.MustCompile(`Context left until auto-compact: (\d+)%`)
	// Spinner line: glyph, task word(s), ellipsis, then a parenthesized
	// segment list like (esc to interrupt · 2m 14s · ↓ 1.2k tokens).
	spinnerRe     = regexp.MustCompile(`(?m)^\s*[✳✢✶✻✽✺✹✸✷·∗*+]\s+([A-Za-z][A-Za-z' -]{0,60}?)(?:…|\.{3})\s*\(([^)]*)\)`)
	elapsedRe     = regexp.MustCompile(`(?:(\d+)h\s*)?(?:(\d+)m\s*)?(\d+)s`)
	tokensRe      = regexp.MustCompile(`[↓↑]?\s*([\d.,]+k?)\s*tokens`)
	statusLineRe  = regexp.MustCompile(`\[([^\[\]\n]+)\]\s*ctx:(\d+)%\s*\$(\d+(?:\.\d+)?)`)
	contextFullRe = regexp.MustCompile(`(?i)approaching context limit|context limit reached|auto-compact(?:ing)?\.\.\.`)
)

// ParseStatus extracts session state from a captured pane buffer and title.
// Pure string work, no I/O; the caller owns capture cadence and staleness.
func ParseStatus(buffer, title string) Status {
	var s Status

	if m := lastSubmatch(contextLowRe, buffer); m != nil {
		s.applyRemaining(m[1])
	} else if m := lastSubmatch(autoCompactRe, buffer); m != nil {
		s.applyRemaining(m[1])
	}
	if contextFullRe.MatchString(buffer) {
		s.ContextFull = true
		s.ContextWarning = true
	}

	if m := lastSubmatch(spinnerRe, buffer); m != nil {
		inner := m[2]
		if strings.Contains(inner, "esc to interrupt") {
			s.IsThinking = true
			s.ActiveTask = strings.TrimSpace(m[1])
		}
		if em := elapsedRe.FindString(inner); em != "" {
			s.ElapsedTime = em
		}
		if tm := tokensRe.FindStringSubmatch(inner); tm != nil {
			s.TokenCount = tm[1]
		}
	}

	if m := lastSubmatch(statusLineRe, buffer); m != nil {
		s.Model = strings.TrimSpace(m[1])
		if cost, err := strconv.ParseFloat(m[3], 64); err == nil {
			s.CostUSD = cost
		}
	}

	s.LastTask = lastTaskFromTitle(title)
	return s
}

func (s *Status) applyRemaining(digits string) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return
	}
	s.ContextWarning = true
	s.ContextRemaining = n
	s.PercentUsed = 100 - n
	if n == 0 {
		s.ContextFull = true
	}
}

// lastSubmatch returns the final match in the buffer. Captures include
// scrollback, and only the most recent occurrence reflects current state.
func lastSubmatch(re *regexp.Regexp, buffer string) []string {
	all := re.FindAllStringSubmatch(buffer, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// lastTaskFromTitle cleans a pane title into a task summary. Shell names and
// spinner glyph prefixes mean Claude never set a title worth keeping.
func lastTaskFromTitle(title string) string {
	t := strings.TrimSpace(title)
	for _, glyph := range []string{"✳", "✢", "✶", "✻", "✽", "⏺"} {
		t = strings.TrimSpace(strings.TrimPrefix(t, glyph))
	}
	switch t {
	case "", "bash", "zsh", "sh", "fish", "node", "claude":
		return ""
	}
	return t
}
