// Package reply pushes a specialist's reply-file entries into the pane of
// the Chief that subscribed to it. Positions are 1-based and monotonic: a
// (specialist, position) pair is injected at most once over the lifetime of
// the subscription.
package reply

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/tmux"
)

// paneInjector is the slice of the tmux driver the injector needs.
type paneInjector interface {
	Inject(target, message string, opts tmux.InjectOptions) (bool, error)
}

// Injector handles reply.txt change signals from the watcher.
type Injector struct {
	db   *db.DB
	reg  *registry.Registry
	mux  paneInjector
	bus  *eventbus.Bus
	root string
	logf func(format string, args ...interface{})
}

// New builds a reply injector.
func New(database *db.DB, reg *registry.Registry, mux paneInjector, bus *eventbus.Bus, root string, logf func(string, ...interface{})) *Injector {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Injector{db: database, reg: reg, mux: mux, bus: bus, root: root, logf: logf}
}

// HandleReply processes one change signal for conversations/<id>/reply.txt.
// Everything that can be absent (specialist, subscription, chief, pane) is
// a silent no-op: a reply file with nobody listening is not an error.
func (i *Injector) HandleReply(conversationID string) error {
	specialist, err := i.reg.GetByConversation(conversationID)
	if err != nil {
		return err
	}
	if specialist == nil || specialist.SubscribedBy == "" {
		return nil
	}

	chief, err := i.reg.Get(specialist.SubscribedBy)
	if err != nil {
		return err
	}
	if chief == nil || !chief.Live() || chief.TmuxPane == "" {
		return nil
	}

	entries, err := ReadEntries(constants.ReplyPath(i.root, conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	last, err := i.maxPosition(specialist.SessionID)
	if err != nil {
		return err
	}

	for pos := last + 1; pos <= len(entries); pos++ {
		entry := entries[pos-1]
		msg := fmt.Sprintf("%s: Reply from %s (%s): %s",
			constants.NotifyPrefix, specialist.Role, specialist.SessionID, entry)
		ok, err := i.mux.Inject(chief.TmuxPane, msg, tmux.InjectOptions{Submit: true})
		if !ok {
			// Not recorded: this position and everything after retry on
			// the next signal, keeping the order strict.
			return fmt.Errorf("injecting reply %d from %s: %w", pos, specialist.SessionID, err)
		}
		if err := i.record(specialist.SessionID, chief.SessionID, pos); err != nil {
			return err
		}
		if i.bus != nil {
			i.bus.Publish(eventbus.EventReplyInjected, map[string]interface{}{
				"specialist_session_id": specialist.SessionID,
				"chief_session_id":      chief.SessionID,
				"position":              pos,
			})
		}
	}
	return nil
}

// maxPosition returns the highest injected position for a specialist, 0
// when none.
func (i *Injector) maxPosition(specialistID string) (int, error) {
	row, err := i.db.FetchOne(`
		SELECT MAX(message_position) AS max_pos FROM reply_injections
		WHERE specialist_session_id = ?`, specialistID)
	if err != nil {
		return 0, err
	}
	return int(db.Int(row, "max_pos")), nil
}

// record inserts the injection row. The primary key on (specialist,
// position) makes double-recording impossible even across racing signals.
func (i *Injector) record(specialistID, chiefID string, pos int) error {
	_, err := i.db.Execute(`
		INSERT INTO reply_injections (specialist_session_id, chief_session_id, message_position, injected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(specialist_session_id, message_position) DO NOTHING`,
		specialistID, chiefID, pos, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording reply injection %s/%d: %w", specialistID, pos, err)
	}
	return nil
}

// ReadEntries splits a reply file into its ordered entries. Entries are
// separated by blank lines; a trailing newline does not create a phantom
// entry.
func ReadEntries(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			entries = append(entries, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return entries, nil
}
