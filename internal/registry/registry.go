// Package registry is the sole writer of the sessions table.
//
// Every session row mutation in the runtime funnels through here: the
// lifecycle hook registering a starting agent, the monitor recording warning
// levels, the handoff executor ending the dying side. One mutator and one
// publisher is what makes the lifecycle events trustworthy — exactly one
// session.started / session.state / session.ended per real transition.
package registry

import (
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/eventbus"
)

// Session is one row of the sessions table.
type Session struct {
	// SessionID is the runtime's short id, not Claude's UUID.
	SessionID string

	// ClaudeSessionUUID is the id Claude Code reports in hook payloads;
	// it names the transcript file.
	ClaudeSessionUUID string

	TmuxPane           string
	ConversationID     string
	ParentSessionID    string
	MissionExecutionID string
	Role               string
	Mode               string

	// CurrentState is active, idle, or ended.
	CurrentState string

	// ContextWarningLevel is the highest warning threshold already
	// delivered, so the monitor warns once per level, not once per poll.
	ContextWarningLevel int

	// SubscribedBy is the session id whose pane receives this session's
	// conversation replies.
	SubscribedBy string

	// HasPinged flags that the completion notification already went out.
	HasPinged bool

	TranscriptPath string
	Cwd            string
	Description    string
	SpecPath       string
	StatusText     string

	StartedAt  time.Time
	LastSeenAt time.Time
	EndedAt    time.Time
	EndReason  string
}

// Live reports whether the session has not ended.
func (s *Session) Live() bool { return s.EndedAt.IsZero() }

// RegisterParams carries what the lifecycle hook knows about a starting
// session. Empty fields preserve existing row values on revive.
type RegisterParams struct {
	SessionID          string
	ClaudeSessionUUID  string
	Role               string
	Mode               string
	Pane               string
	TranscriptPath     string
	ConversationID     string
	ParentSessionID    string
	MissionExecutionID string
	Cwd                string
	Description        string
	SpecPath           string
}

// Registry mediates all sessions-table access.
type Registry struct {
	db  *db.DB
	bus *eventbus.Bus
}

// New creates a registry. bus may be nil in read-only tools.
func New(database *db.DB, bus *eventbus.Bus) *Registry {
	return &Registry{db: database, bus: bus}
}

// Register upserts a session row. A conflicting row is revived: end markers
// cleared, state reset to idle, provenance refreshed. Registering a Chief
// supersedes any older live Chief, and claiming a pane ends whatever session
// held it before.
func (r *Registry) Register(p RegisterParams) (*Session, error) {
	if p.SessionID == "" {
		return nil, fmt.Errorf("register: session id required")
	}
	if p.Mode == "" {
		p.Mode = constants.ModeInteractive
	}
	if p.Role == constants.RoleChief && p.ConversationID == "" {
		p.ConversationID = constants.ConversationChief
	}

	if p.Pane != "" {
		if err := r.ReconcilePane(p.Pane, p.SessionID); err != nil {
			return nil, err
		}
	}
	if p.ConversationID == constants.ConversationChief {
		if err := r.supersedeChiefs(p.SessionID); err != nil {
			return nil, err
		}
	}

	existing, err := r.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	now := nowText()

	if existing == nil {
		_, err := r.db.Execute(`
			INSERT INTO sessions (
				session_id, claude_session_uuid, tmux_pane, conversation_id,
				parent_session_id, mission_execution_id, role, mode,
				current_state, transcript_path, cwd, description, spec_path,
				started_at, last_seen_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.SessionID, p.ClaudeSessionUUID, p.Pane, p.ConversationID,
			p.ParentSessionID, p.MissionExecutionID, p.Role, p.Mode,
			p.TranscriptPath, p.Cwd, p.Description, p.SpecPath,
			now, now, now, now)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", p.SessionID, err)
		}
		r.publishStarted(p)
		return r.Get(p.SessionID)
	}

	wasLive := existing.Live()
	_, err = r.db.Execute(`
		UPDATE sessions SET
			claude_session_uuid  = COALESCE(NULLIF(?, ''), claude_session_uuid),
			tmux_pane            = COALESCE(NULLIF(?, ''), tmux_pane),
			conversation_id      = COALESCE(NULLIF(?, ''), conversation_id),
			parent_session_id    = COALESCE(NULLIF(?, ''), parent_session_id),
			mission_execution_id = COALESCE(NULLIF(?, ''), mission_execution_id),
			role                 = COALESCE(NULLIF(?, ''), role),
			mode                 = COALESCE(NULLIF(?, ''), mode),
			transcript_path      = COALESCE(NULLIF(?, ''), transcript_path),
			cwd                  = COALESCE(NULLIF(?, ''), cwd),
			description          = COALESCE(NULLIF(?, ''), description),
			spec_path            = COALESCE(NULLIF(?, ''), spec_path),
			current_state = 'idle',
			ended_at = NULL,
			end_reason = NULL,
			last_seen_at = ?,
			updated_at = ?
		WHERE session_id = ?`,
		p.ClaudeSessionUUID, p.Pane, p.ConversationID, p.ParentSessionID,
		p.MissionExecutionID, p.Role, p.Mode, p.TranscriptPath, p.Cwd,
		p.Description, p.SpecPath, now, now, p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("revive %s: %w", p.SessionID, err)
	}
	if !wasLive {
		r.publishStarted(p)
	}
	return r.Get(p.SessionID)
}

// ReconcilePane ends every live session claiming pane other than keeper.
// tmux reuses pane ids; a stale claimant would make GetByPane lie.
func (r *Registry) ReconcilePane(pane, keeper string) error {
	victims, err := r.db.FetchAll(`
		SELECT session_id FROM sessions
		WHERE tmux_pane = ? AND session_id != ? AND ended_at IS NULL`,
		pane, keeper)
	if err != nil {
		return fmt.Errorf("reconcile pane %s: %w", pane, err)
	}
	for _, v := range victims {
		if err := r.End(db.String(v, "session_id"), constants.EndReasonPaneReused); err != nil {
			return err
		}
	}
	return nil
}

// supersedeChiefs ends every live Chief other than keeper. The chief
// conversation is held by at most one live session.
func (r *Registry) supersedeChiefs(keeper string) error {
	others, err := r.db.FetchAll(`
		SELECT session_id FROM sessions
		WHERE conversation_id = ? AND session_id != ? AND ended_at IS NULL`,
		constants.ConversationChief, keeper)
	if err != nil {
		return fmt.Errorf("supersede chiefs: %w", err)
	}
	for _, row := range others {
		if err := r.End(db.String(row, "session_id"), constants.EndReasonChiefSuperseded); err != nil {
			return err
		}
	}
	return nil
}

// MarkIdle moves a live session to idle and publishes session.state once.
// An already idle session is a no-op.
func (r *Registry) MarkIdle(sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	if s == nil || !s.Live() || s.CurrentState == "idle" {
		return nil
	}
	now := nowText()
	_, err = r.db.Execute(`
		UPDATE sessions SET current_state = 'idle', last_seen_at = ?, updated_at = ?
		WHERE session_id = ?`, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("mark idle %s: %w", sessionID, err)
	}
	r.publishState(s, "idle")
	return nil
}

// MarkActive moves a live session to active and records its status text.
func (r *Registry) MarkActive(sessionID, statusText string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	if s == nil || !s.Live() {
		return nil
	}
	now := nowText()
	_, err = r.db.Execute(`
		UPDATE sessions SET current_state = 'active', status_text = ?, last_seen_at = ?, updated_at = ?
		WHERE session_id = ?`, statusText, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("mark active %s: %w", sessionID, err)
	}
	if s.CurrentState != "active" {
		r.publishState(s, "active")
	}
	return nil
}

// End closes a session and publishes session.ended exactly once. Ending an
// already ended or unknown session is a no-op.
func (r *Registry) End(sessionID, reason string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	if s == nil || !s.Live() {
		return nil
	}
	now := nowText()
	_, err = r.db.Execute(`
		UPDATE sessions SET ended_at = ?, end_reason = ?, current_state = 'ended', updated_at = ?
		WHERE session_id = ?`, now, reason, now, sessionID)
	if err != nil {
		return fmt.Errorf("end %s: %w", sessionID, err)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.EventSessionEnded, map[string]interface{}{
			"session_id": sessionID,
			"role":       s.Role,
			"mode":       s.Mode,
			"reason":     reason,
		})
	}
	return nil
}

// Get returns a session by id, or nil when unknown.
func (r *Registry) Get(sessionID string) (*Session, error) {
	row, err := r.db.FetchOne(`SELECT * FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil || row == nil {
		return nil, err
	}
	return sessionFromRow(row), nil
}

// GetByPane returns the most recent live session claiming a pane, or nil.
// Lifecycle tools use this to answer "who am I" from TMUX_PANE.
func (r *Registry) GetByPane(pane string) (*Session, error) {
	row, err := r.db.FetchOne(`
		SELECT * FROM sessions
		WHERE tmux_pane = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, pane)
	if err != nil || row == nil {
		return nil, err
	}
	return sessionFromRow(row), nil
}

// GetByConversation returns the most recent live session in a conversation.
func (r *Registry) GetByConversation(conversationID string) (*Session, error) {
	row, err := r.db.FetchOne(`
		SELECT * FROM sessions
		WHERE conversation_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, conversationID)
	if err != nil || row == nil {
		return nil, err
	}
	return sessionFromRow(row), nil
}

// LiveSessions returns every session without an end marker, oldest first.
func (r *Registry) LiveSessions() ([]*Session, error) {
	rows, err := r.db.FetchAll(`
		SELECT * FROM sessions WHERE ended_at IS NULL ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, sessionFromRow(row))
	}
	return sessions, nil
}

// SetWarningLevel records the highest context warning already delivered.
func (r *Registry) SetWarningLevel(sessionID string, level int) error {
	_, err := r.db.Execute(`
		UPDATE sessions SET context_warning_level = ?, updated_at = ?
		WHERE session_id = ?`, level, nowText(), sessionID)
	return err
}

// SetStatusText updates the display-only status line for a session.
func (r *Registry) SetStatusText(sessionID, text string) error {
	now := nowText()
	_, err := r.db.Execute(`
		UPDATE sessions SET status_text = ?, last_seen_at = ?, updated_at = ?
		WHERE session_id = ?`, text, now, now, sessionID)
	return err
}

// Subscribe routes specialistID's conversation replies to chiefID's pane.
func (r *Registry) Subscribe(specialistID, chiefID string) error {
	_, err := r.db.Execute(`
		UPDATE sessions SET subscribed_by = ?, updated_at = ?
		WHERE session_id = ?`, chiefID, nowText(), specialistID)
	return err
}

// MarkPinged flags that this session's completion notification went out.
func (r *Registry) MarkPinged(sessionID string) error {
	_, err := r.db.Execute(`
		UPDATE sessions SET has_pinged = 1, updated_at = ?
		WHERE session_id = ?`, nowText(), sessionID)
	return err
}

func (r *Registry) publishStarted(p RegisterParams) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.EventSessionStarted, map[string]interface{}{
		"session_id": p.SessionID,
		"role":       p.Role,
		"mode":       p.Mode,
		"pane":       p.Pane,
	})
}

func (r *Registry) publishState(s *Session, state string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.EventSessionState, map[string]interface{}{
		"session_id": s.SessionID,
		"role":       s.Role,
		"state":      state,
	})
}

func sessionFromRow(row db.Row) *Session {
	return &Session{
		SessionID:           db.String(row, "session_id"),
		ClaudeSessionUUID:   db.String(row, "claude_session_uuid"),
		TmuxPane:            db.String(row, "tmux_pane"),
		ConversationID:      db.String(row, "conversation_id"),
		ParentSessionID:     db.String(row, "parent_session_id"),
		MissionExecutionID:  db.String(row, "mission_execution_id"),
		Role:                db.String(row, "role"),
		Mode:                db.String(row, "mode"),
		CurrentState:        db.String(row, "current_state"),
		ContextWarningLevel: int(db.Int(row, "context_warning_level")),
		SubscribedBy:        db.String(row, "subscribed_by"),
		HasPinged:           db.Bool(row, "has_pinged"),
		TranscriptPath:      db.String(row, "transcript_path"),
		Cwd:                 db.String(row, "cwd"),
		Description:         db.String(row, "description"),
		SpecPath:            db.String(row, "spec_path"),
		StatusText:          db.String(row, "status_text"),
		StartedAt:           parseTime(db.String(row, "started_at")),
		LastSeenAt:          parseTime(db.String(row, "last_seen_at")),
		EndedAt:             parseTime(db.String(row, "ended_at")),
		EndReason:           db.String(row, "end_reason"),
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
