// Package duty implements the Chief's recurring duties: scheduled prompts
// injected into the Chief pane rather than spawned as new agents.
package duty

import (
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/db"
)

// Duty is one row of chief_duties.
type Duty struct {
	ID             int64
	Slug           string
	Name           string
	ScheduleTime   string // HH:MM in the configured timezone
	PromptFile     string
	TimeoutMinutes int
	Enabled        bool
	LastRun        string // RFC3339 text; kept raw so a corrupt value is visible
	LastStatus     string
}

// Execution is one row of chief_duty_executions.
type Execution struct {
	ID              int64
	DutyID          int64
	DutySlug        string
	StartedAt       time.Time
	EndedAt         time.Time
	Status          string
	SessionID       string
	ErrorMessage    string
	DurationSeconds float64
}

// Store owns chief_duties and chief_duty_executions.
type Store struct {
	db *db.DB
}

// NewStore creates a duty store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// defaultDuties are seeded on first run. Operators edit rows afterwards;
// seeding never overwrites.
var defaultDuties = []Duty{
	{Slug: "morning-reset", Name: "Morning reset", ScheduleTime: "06:00", TimeoutMinutes: 15},
	{Slug: "evening-review", Name: "Evening review", ScheduleTime: "21:30", TimeoutMinutes: 15},
}

// EnsureDefaults inserts the core duties if their slugs are absent.
func (s *Store) EnsureDefaults() error {
	for _, d := range defaultDuties {
		now := nowText()
		_, err := s.db.Execute(`
			INSERT INTO chief_duties (slug, name, schedule_time, timeout_minutes, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(slug) DO NOTHING`,
			d.Slug, d.Name, d.ScheduleTime, d.TimeoutMinutes, now, now)
		if err != nil {
			return fmt.Errorf("seeding duty %s: %w", d.Slug, err)
		}
	}
	return nil
}

// List returns every duty, enabled or not, ordered by schedule time.
func (s *Store) List() ([]*Duty, error) {
	rows, err := s.db.FetchAll(`SELECT * FROM chief_duties ORDER BY schedule_time, slug`)
	if err != nil {
		return nil, err
	}
	out := make([]*Duty, 0, len(rows))
	for _, row := range rows {
		out = append(out, dutyFromRow(row))
	}
	return out, nil
}

// Enabled returns only the duties eligible for scheduling.
func (s *Store) Enabled() ([]*Duty, error) {
	rows, err := s.db.FetchAll(`
		SELECT * FROM chief_duties WHERE enabled = 1 ORDER BY schedule_time, slug`)
	if err != nil {
		return nil, err
	}
	out := make([]*Duty, 0, len(rows))
	for _, row := range rows {
		out = append(out, dutyFromRow(row))
	}
	return out, nil
}

// Get returns a duty by slug, or nil.
func (s *Store) Get(slug string) (*Duty, error) {
	row, err := s.db.FetchOne(`SELECT * FROM chief_duties WHERE slug = ?`, slug)
	if err != nil || row == nil {
		return nil, err
	}
	return dutyFromRow(row), nil
}

// Upsert creates or updates a duty definition by slug.
func (s *Store) Upsert(d *Duty) error {
	now := nowText()
	_, err := s.db.Execute(`
		INSERT INTO chief_duties (slug, name, schedule_time, prompt_file, timeout_minutes, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			schedule_time = excluded.schedule_time,
			prompt_file = excluded.prompt_file,
			timeout_minutes = excluded.timeout_minutes,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		d.Slug, d.Name, d.ScheduleTime, d.PromptFile, d.TimeoutMinutes,
		boolToInt(d.Enabled), now, now)
	if err != nil {
		return fmt.Errorf("upserting duty %s: %w", d.Slug, err)
	}
	return nil
}

// SetEnabled flips a duty's enabled flag.
func (s *Store) SetEnabled(slug string, enabled bool) error {
	n, err := s.db.Execute(`
		UPDATE chief_duties SET enabled = ?, updated_at = ? WHERE slug = ?`,
		boolToInt(enabled), nowText(), slug)
	if err != nil {
		return fmt.Errorf("updating duty %s: %w", slug, err)
	}
	if n == 0 {
		return fmt.Errorf("duty %s not found", slug)
	}
	return nil
}

// UpdateLastRun stamps a run. The stamp is what defers the duty to
// tomorrow; there is no next_run column by design.
func (s *Store) UpdateLastRun(id int64, status string, at time.Time) error {
	_, err := s.db.Execute(`
		UPDATE chief_duties SET last_run = ?, last_status = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), status, nowText(), id)
	if err != nil {
		return fmt.Errorf("updating duty %d last_run: %w", id, err)
	}
	return nil
}

// RecordExecution inserts an execution row and returns its id.
func (s *Store) RecordExecution(e *Execution) (int64, error) {
	id, err := s.db.ExecuteInsert(`
		INSERT INTO chief_duty_executions
			(duty_id, duty_slug, started_at, ended_at, status, session_id, error_message, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DutyID, e.DutySlug, timeText(e.StartedAt), timeText(e.EndedAt),
		e.Status, e.SessionID, e.ErrorMessage, e.DurationSeconds)
	if err != nil {
		return 0, fmt.Errorf("recording duty execution for %s: %w", e.DutySlug, err)
	}
	return id, nil
}

// Executions returns the latest n execution rows for a duty slug.
func (s *Store) Executions(slug string, n int) ([]*Execution, error) {
	rows, err := s.db.FetchAll(`
		SELECT * FROM chief_duty_executions WHERE duty_slug = ?
		ORDER BY started_at DESC LIMIT ?`, slug, n)
	if err != nil {
		return nil, err
	}
	out := make([]*Execution, 0, len(rows))
	for _, row := range rows {
		out = append(out, execFromRow(row))
	}
	return out, nil
}

func dutyFromRow(row db.Row) *Duty {
	return &Duty{
		ID:             db.Int(row, "id"),
		Slug:           db.String(row, "slug"),
		Name:           db.String(row, "name"),
		ScheduleTime:   db.String(row, "schedule_time"),
		PromptFile:     db.String(row, "prompt_file"),
		TimeoutMinutes: int(db.Int(row, "timeout_minutes")),
		Enabled:        db.Bool(row, "enabled"),
		LastRun:        db.String(row, "last_run"),
		LastStatus:     db.String(row, "last_status"),
	}
}

func execFromRow(row db.Row) *Execution {
	return &Execution{
		ID:              db.Int(row, "id"),
		DutyID:          db.Int(row, "duty_id"),
		DutySlug:        db.String(row, "duty_slug"),
		StartedAt:       parseTime(db.String(row, "started_at")),
		EndedAt:         parseTime(db.String(row, "ended_at")),
		Status:          db.String(row, "status"),
		SessionID:       db.String(row, "session_id"),
		ErrorMessage:    db.String(row, "error_message"),
		DurationSeconds: db.Float(row, "duration_seconds"),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowText() string { return time.Now().UTC().Format(time.RFC3339) }

func timeText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
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
