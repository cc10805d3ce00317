package trigger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CalendarEvent is one upcoming calendar entry.
type CalendarEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
}

// CalendarSource answers "what starts inside this window". The OS calendar
// is an external collaborator; the runtime only talks to it through this
// seam.
type CalendarSource interface {
	Upcoming(from, to time.Time) ([]CalendarEvent, error)
}

// CommandCalendar shells out to a configured command that prints one JSON
// object per line: {"id": ..., "title": ..., "start": RFC3339}.
type CommandCalendar struct {
	Command string
	Timeout time.Duration
}

// NewCommandCalendar wraps a calendar command line.
func NewCommandCalendar(command string) *CommandCalendar {
	return &CommandCalendar{Command: command, Timeout: 10 * time.Second}
}

// Upcoming runs the command with the window bounds as RFC3339 arguments and
// parses its output. Malformed lines are skipped; a calendar helper that
// prints a warning should not take the trigger loop down.
func (c *CommandCalendar) Upcoming(from, to time.Time) ([]CalendarEvent, error) {
	if c.Command == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c",
		fmt.Sprintf("%s %s %s", c.Command, from.Format(time.RFC3339), to.Format(time.RFC3339)))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("calendar command: %w", err)
	}

	var events []CalendarEvent
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev CalendarEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.ID == "" {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
