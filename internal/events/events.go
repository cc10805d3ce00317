// Package events provides the durable activity feed.
//
// Entries are appended to <root>/.engine/state/events.jsonl. The daemon
// bridges bus events into the feed; `cos events tail` reads it back.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/claudeos/cos/internal/constants"
)

// Entry is one line of the activity feed.
type Entry struct {
	Timestamp string                 `json:"ts"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Sources recorded in the feed.
const (
	SourceDaemon  = "daemon"
	SourceCLI     = "cos"
	SourceWatcher = "watcher"
)

// Feed is an append-only JSONL log. Safe for concurrent use within one
// process; appends from separate processes rely on O_APPEND atomicity for
// line-sized writes.
type Feed struct {
	path string
	mu   sync.Mutex
}

// NewFeed returns the feed for a workspace root.
func NewFeed(root string) *Feed {
	return &Feed{
		path: filepath.Join(constants.EngineStateDir(root), constants.EventsFeedName),
	}
}

// Path returns the feed file location.
func (f *Feed) Path() string {
	return f.path
}

// Append writes one entry. Timestamps are UTC RFC3339.
func (f *Feed) Append(source, eventType string, payload map[string]interface{}) error {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
		Type:      eventType,
		Payload:   payload,
	}
	return f.write(entry)
}

func (f *Feed) write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening events feed: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}

// Tail returns the last n entries, oldest first. Lines that fail to parse
// are skipped; a half-written trailing line must not break the reader.
func (f *Feed) Tail(n int) ([]Entry, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening events feed: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading events feed: %w", err)
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
