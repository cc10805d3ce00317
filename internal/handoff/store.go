// Package handoff implements session replacement: a dying session's
// conversation is summarized into a handoff file, its pane is killed, and a
// successor spawns with the same conversation identity pointed at the file.
//
// The pipeline is split so the caller never waits on it. Request writes the
// template scaffold and the handoff row; Launch detaches `cos handoff exec`
// as its own process; Execute (in that process) runs the summarizer, does
// the pane surgery, and records the outcome.
package handoff

import (
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/util"
)

// Handoff statuses. Transitions are monotonic:
// pending → executing → (complete | failed).
const (
	StatusPending   = "pending"
	StatusExecuting = "executing"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
)

// Handoff is one row of the handoffs table: a snapshot of the dying
// session's identity plus the replacement outcome.
type Handoff struct {
	ID        string
	SessionID string

	// Identity snapshot taken at request time. The executor runs in its
	// own process after the session row may already be gone or changed.
	Role               string
	Mode               string
	TmuxPane           string
	ConversationID     string
	ParentSessionID    string
	MissionExecutionID string

	// Reason is the handoff reason code (context_low,
	// emergency_context_full, pane_reused).
	Reason string

	// HandoffFile is the template file the summarizer fills and the
	// replacement reads. HandoffContent, when set, is caller-provided
	// summary text the executor writes into the file instead of running
	// the summarizer.
	HandoffFile    string
	HandoffContent string

	Status       string
	RequestedAt  time.Time
	ExecutedAt   time.Time
	CompletedAt  time.Time
	NewSessionID string
	Error        string
}

// Store owns the handoffs table.
type Store struct {
	db *db.DB
}

// NewStore creates a handoff store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts a pending handoff. An empty ID is assigned.
func (s *Store) Create(h *Handoff) error {
	if h.SessionID == "" {
		return fmt.Errorf("handoff create: session id required")
	}
	if h.ID == "" {
		h.ID = util.NewID()
	}
	h.Status = StatusPending
	h.RequestedAt = time.Now().UTC()

	_, err := s.db.Execute(`
		INSERT INTO handoffs (
			id, session_id, role, mode, tmux_pane, conversation_id,
			parent_session_id, mission_execution_id, reason,
			handoff_file, handoff_content, status, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.SessionID, h.Role, h.Mode, h.TmuxPane, h.ConversationID,
		h.ParentSessionID, h.MissionExecutionID, h.Reason,
		h.HandoffFile, h.HandoffContent, h.Status,
		h.RequestedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating handoff for %s: %w", h.SessionID, err)
	}
	return nil
}

// Get returns a handoff by id, or nil when unknown.
func (s *Store) Get(id string) (*Handoff, error) {
	row, err := s.db.FetchOne(`SELECT * FROM handoffs WHERE id = ?`, id)
	if err != nil || row == nil {
		return nil, err
	}
	return handoffFromRow(row), nil
}

// InFlightForSession returns handoffs still pending or executing for a
// session. The double-trigger guard: a session with one of these never gets
// a second handoff.
func (s *Store) InFlightForSession(sessionID string) ([]*Handoff, error) {
	rows, err := s.db.FetchAll(`
		SELECT * FROM handoffs
		WHERE session_id = ? AND status IN (?, ?)
		ORDER BY requested_at`, sessionID, StatusPending, StatusExecuting)
	if err != nil {
		return nil, err
	}
	out := make([]*Handoff, 0, len(rows))
	for _, row := range rows {
		out = append(out, handoffFromRow(row))
	}
	return out, nil
}

// Recent returns the n most recent handoffs, newest first.
func (s *Store) Recent(n int) ([]*Handoff, error) {
	rows, err := s.db.FetchAll(`
		SELECT * FROM handoffs ORDER BY requested_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	out := make([]*Handoff, 0, len(rows))
	for _, row := range rows {
		out = append(out, handoffFromRow(row))
	}
	return out, nil
}

// SetFile records the handoff file path once it has been scaffolded.
func (s *Store) SetFile(id, path string) error {
	_, err := s.db.Execute(`UPDATE handoffs SET handoff_file = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("setting handoff file for %s: %w", id, err)
	}
	return nil
}

// MarkExecuting moves a pending handoff to executing. Any other starting
// status is an error; transitions never go backwards.
func (s *Store) MarkExecuting(id string) error {
	n, err := s.db.Execute(`
		UPDATE handoffs SET status = ?, executed_at = ?
		WHERE id = ? AND status = ?`,
		StatusExecuting, nowText(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("marking handoff %s executing: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("handoff %s is not pending", id)
	}
	return nil
}

// Complete records the successful outcome and the replacement's session id.
func (s *Store) Complete(id, newSessionID string) error {
	n, err := s.db.Execute(`
		UPDATE handoffs SET status = ?, completed_at = ?, new_session_id = ?
		WHERE id = ? AND status = ?`,
		StatusComplete, nowText(), newSessionID, id, StatusExecuting)
	if err != nil {
		return fmt.Errorf("completing handoff %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("handoff %s is not executing", id)
	}
	return nil
}

// Fail records a terminal failure with its error text. Allowed from pending
// or executing; the row keeps whichever in-flight status errored.
func (s *Store) Fail(id, errText string) error {
	n, err := s.db.Execute(`
		UPDATE handoffs SET status = ?, completed_at = ?, error = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, nowText(), errText, id, StatusPending, StatusExecuting)
	if err != nil {
		return fmt.Errorf("failing handoff %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("handoff %s is not in flight", id)
	}
	return nil
}

func handoffFromRow(row db.Row) *Handoff {
	return &Handoff{
		ID:                 db.String(row, "id"),
		SessionID:          db.String(row, "session_id"),
		Role:               db.String(row, "role"),
		Mode:               db.String(row, "mode"),
		TmuxPane:           db.String(row, "tmux_pane"),
		ConversationID:     db.String(row, "conversation_id"),
		ParentSessionID:    db.String(row, "parent_session_id"),
		MissionExecutionID: db.String(row, "mission_execution_id"),
		Reason:             db.String(row, "reason"),
		HandoffFile:        db.String(row, "handoff_file"),
		HandoffContent:     db.String(row, "handoff_content"),
		Status:             db.String(row, "status"),
		RequestedAt:        parseTime(db.String(row, "requested_at")),
		ExecutedAt:         parseTime(db.String(row, "executed_at")),
		CompletedAt:        parseTime(db.String(row, "completed_at")),
		NewSessionID:       db.String(row, "new_session_id"),
		Error:              db.String(row, "error"),
	}
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
