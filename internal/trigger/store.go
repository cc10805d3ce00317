// Package trigger injects scheduled and calendar-derived prompts into the
// Chief pane. Triggers are lighter than duties: a morning brief or a
// pre-meeting nudge, not a full skill invocation.
package trigger

import (
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/db"
)

// Trigger kinds.
const (
	TypeScheduled = "scheduled"
	TypeCalendar  = "calendar"
)

// Trigger is one row of the triggers table. TimeSpec is HH:MM for the
// scheduled kind and minutes-ahead for the calendar kind.
type Trigger struct {
	ID       int64
	Name     string
	Type     string
	TimeSpec string
	Prompt   string
	Enabled  bool
	LastRun  string
}

// Store owns the triggers table.
type Store struct {
	db *db.DB
}

// NewStore creates a trigger store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Enabled returns the triggers eligible for evaluation.
func (s *Store) Enabled() ([]*Trigger, error) {
	rows, err := s.db.FetchAll(`SELECT * FROM triggers WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := make([]*Trigger, 0, len(rows))
	for _, row := range rows {
		out = append(out, triggerFromRow(row))
	}
	return out, nil
}

// List returns every trigger.
func (s *Store) List() ([]*Trigger, error) {
	rows, err := s.db.FetchAll(`SELECT * FROM triggers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := make([]*Trigger, 0, len(rows))
	for _, row := range rows {
		out = append(out, triggerFromRow(row))
	}
	return out, nil
}

// Create inserts a trigger and returns its id.
func (s *Store) Create(tr *Trigger) (int64, error) {
	if tr.Type != TypeScheduled && tr.Type != TypeCalendar {
		return 0, fmt.Errorf("unknown trigger type %q", tr.Type)
	}
	now := nowText()
	id, err := s.db.ExecuteInsert(`
		INSERT INTO triggers (name, type, time_spec, prompt, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.Name, tr.Type, tr.TimeSpec, tr.Prompt, boolToInt(tr.Enabled), now, now)
	if err != nil {
		return 0, fmt.Errorf("creating trigger %s: %w", tr.Name, err)
	}
	return id, nil
}

// SetEnabled flips a trigger's enabled flag.
func (s *Store) SetEnabled(id int64, enabled bool) error {
	n, err := s.db.Execute(`
		UPDATE triggers SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), nowText(), id)
	if err != nil {
		return fmt.Errorf("updating trigger %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("trigger %d not found", id)
	}
	return nil
}

// UpdateLastRun stamps a scheduled trigger's run.
func (s *Store) UpdateLastRun(id int64, at time.Time) error {
	_, err := s.db.Execute(`
		UPDATE triggers SET last_run = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), nowText(), id)
	if err != nil {
		return fmt.Errorf("updating trigger %d last_run: %w", id, err)
	}
	return nil
}

func triggerFromRow(row db.Row) *Trigger {
	return &Trigger{
		ID:       db.Int(row, "id"),
		Name:     db.String(row, "name"),
		Type:     db.String(row, "type"),
		TimeSpec: db.String(row, "time_spec"),
		Prompt:   db.String(row, "prompt"),
		Enabled:  db.Bool(row, "enabled"),
		LastRun:  db.String(row, "last_run"),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowText() string { return time.Now().UTC().Format(time.RFC3339) }
