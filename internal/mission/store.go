// Package mission runs system-initiated background agents: scheduled or
// triggered work that spawns headless sessions, never panes, and tracks
// each run in an execution row.
package mission

import (
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/util"
)

// Mission sources. core_protected rows cannot be deleted or disabled
// through the store API.
const (
	SourceCoreProtected = "core_protected"
	SourceCoreDefault   = "core_default"
	SourceCustomApp     = "custom_app"
	SourceUser          = "user"
)

// Execution statuses.
const (
	ExecRunning   = "running"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
)

// Mission is one row of the missions table.
type Mission struct {
	ID             int64
	Slug           string
	Name           string
	Source         string
	PromptFile     string
	PromptInline   string
	ScheduleTime   string // HH:MM, empty when triggered
	ScheduleCron   string // reserved; not evaluated by the scheduler
	TriggerType    string
	TriggerConfig  string
	TimeoutMinutes int
	Role           string
	Mode           string
	Enabled        bool
	NextRun        string
	LastRun        string
	LastStatus     string
}

// Execution is one row of mission_executions.
type Execution struct {
	ID              string
	MissionID       int64
	MissionSlug     string
	StartedAt       time.Time
	EndedAt         time.Time
	Status          string
	SessionID       string
	OutputSummary   string
	ErrorMessage    string
	DurationSeconds float64
}

// Store owns missions and mission_executions.
type Store struct {
	db *db.DB
}

// NewStore creates a mission store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

var defaultMissions = []Mission{
	{
		Slug:         "nightly-digest",
		Name:         "Nightly digest",
		Source:       SourceCoreDefault,
		PromptInline: "Summarize today's session activity and file changes into Desktop/digests/{{date}}.md. Execution: {{execution_id}}.",
		ScheduleTime: "02:30",
		Role:         "analyst",
		Mode:         constants.ModeMission,
	},
}

// EnsureDefaults seeds the core missions if their slugs are absent.
func (s *Store) EnsureDefaults() error {
	for _, m := range defaultMissions {
		now := nowText()
		_, err := s.db.Execute(`
			INSERT INTO missions (slug, name, source, prompt_inline, schedule_time, timeout_minutes, role, mode, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 30, ?, ?, 1, ?, ?)
			ON CONFLICT(slug) DO NOTHING`,
			m.Slug, m.Name, m.Source, m.PromptInline, m.ScheduleTime, m.Role, m.Mode, now, now)
		if err != nil {
			return fmt.Errorf("seeding mission %s: %w", m.Slug, err)
		}
	}
	return nil
}

// Create inserts a mission definition. The chief role is reserved for the
// interactive session; missions never target it. A mission carries exactly
// one prompt source.
func (s *Store) Create(m *Mission) (int64, error) {
	if err := validate(m); err != nil {
		return 0, err
	}
	if m.Source == "" {
		m.Source = SourceUser
	}
	if m.Mode == "" {
		m.Mode = constants.ModeMission
	}
	if m.TimeoutMinutes <= 0 {
		m.TimeoutMinutes = 30
	}
	now := nowText()
	id, err := s.db.ExecuteInsert(`
		INSERT INTO missions (slug, name, source, prompt_file, prompt_inline, schedule_time, schedule_cron,
			trigger_type, trigger_config, timeout_minutes, role, mode, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Slug, m.Name, m.Source, m.PromptFile, m.PromptInline, m.ScheduleTime, m.ScheduleCron,
		m.TriggerType, m.TriggerConfig, m.TimeoutMinutes, m.Role, m.Mode, boolToInt(m.Enabled), now, now)
	if err != nil {
		return 0, fmt.Errorf("creating mission %s: %w", m.Slug, err)
	}
	return id, nil
}

func validate(m *Mission) error {
	if m.Slug == "" {
		return fmt.Errorf("mission slug required")
	}
	if m.Role == "" || m.Role == constants.RoleChief {
		return fmt.Errorf("mission %s: role must be set and must not be chief", m.Slug)
	}
	if (m.PromptFile == "") == (m.PromptInline == "") {
		return fmt.Errorf("mission %s: exactly one of prompt_file or prompt_inline", m.Slug)
	}
	return nil
}

// Get returns a mission by slug, or nil.
func (s *Store) Get(slug string) (*Mission, error) {
	row, err := s.db.FetchOne(`SELECT * FROM missions WHERE slug = ?`, slug)
	if err != nil || row == nil {
		return nil, err
	}
	return missionFromRow(row), nil
}

// List returns every mission.
func (s *Store) List() ([]*Mission, error) {
	rows, err := s.db.FetchAll(`SELECT * FROM missions ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	out := make([]*Mission, 0, len(rows))
	for _, row := range rows {
		out = append(out, missionFromRow(row))
	}
	return out, nil
}

// EnabledScheduled returns enabled missions with an HH:MM schedule.
func (s *Store) EnabledScheduled() ([]*Mission, error) {
	rows, err := s.db.FetchAll(`
		SELECT * FROM missions
		WHERE enabled = 1 AND schedule_time IS NOT NULL AND schedule_time != ''
		ORDER BY schedule_time, slug`)
	if err != nil {
		return nil, err
	}
	out := make([]*Mission, 0, len(rows))
	for _, row := range rows {
		out = append(out, missionFromRow(row))
	}
	return out, nil
}

// SetEnabled flips a mission's enabled flag. Protected rows refuse.
func (s *Store) SetEnabled(slug string, enabled bool) error {
	m, err := s.Get(slug)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("mission %s not found", slug)
	}
	if m.Source == SourceCoreProtected && !enabled {
		return fmt.Errorf("mission %s is protected and cannot be disabled", slug)
	}
	_, err = s.db.Execute(`
		UPDATE missions SET enabled = ?, updated_at = ? WHERE slug = ?`,
		boolToInt(enabled), nowText(), slug)
	return err
}

// Delete removes a mission definition. Protected rows refuse.
func (s *Store) Delete(slug string) error {
	m, err := s.Get(slug)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("mission %s not found", slug)
	}
	if m.Source == SourceCoreProtected {
		return fmt.Errorf("mission %s is protected and cannot be deleted", slug)
	}
	_, err = s.db.Execute(`DELETE FROM missions WHERE slug = ?`, slug)
	return err
}

// UpdateLastRun stamps a run on the mission row.
func (s *Store) UpdateLastRun(id int64, status string, at time.Time) error {
	_, err := s.db.Execute(`
		UPDATE missions SET last_run = ?, last_status = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), status, nowText(), id)
	return err
}

// BeginExecution inserts a running execution row and returns it.
func (s *Store) BeginExecution(m *Mission) (*Execution, error) {
	e := &Execution{
		ID:          util.NewID(),
		MissionID:   m.ID,
		MissionSlug: m.Slug,
		StartedAt:   time.Now().UTC(),
		Status:      ExecRunning,
	}
	_, err := s.db.Execute(`
		INSERT INTO mission_executions (id, mission_id, mission_slug, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.MissionID, e.MissionSlug, e.StartedAt.Format(time.RFC3339), e.Status)
	if err != nil {
		return nil, fmt.Errorf("beginning execution for %s: %w", m.Slug, err)
	}
	return e, nil
}

// CloseExecution finishes an execution row. It is the write behind the
// agent-facing `cos mission complete` tool; closing an already closed
// execution is an error so a late agent cannot overwrite the verdict.
func (s *Store) CloseExecution(execID, status, summary, errMsg string) error {
	row, err := s.db.FetchOne(`
		SELECT started_at, status FROM mission_executions WHERE id = ?`, execID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("execution %s not found", execID)
	}
	if db.String(row, "status") != ExecRunning {
		return fmt.Errorf("execution %s already closed (%s)", execID, db.String(row, "status"))
	}

	started := parseTime(db.String(row, "started_at"))
	now := time.Now().UTC()
	duration := 0.0
	if !started.IsZero() {
		duration = now.Sub(started).Seconds()
	}
	_, err = s.db.Execute(`
		UPDATE mission_executions
		SET status = ?, output_summary = ?, error_message = ?, ended_at = ?, duration_seconds = ?
		WHERE id = ? AND status = ?`,
		status, summary, errMsg, now.Format(time.RFC3339), duration, execID, ExecRunning)
	if err != nil {
		return fmt.Errorf("closing execution %s: %w", execID, err)
	}
	return nil
}

// GetExecution returns an execution row by id, or nil.
func (s *Store) GetExecution(execID string) (*Execution, error) {
	row, err := s.db.FetchOne(`SELECT * FROM mission_executions WHERE id = ?`, execID)
	if err != nil || row == nil {
		return nil, err
	}
	return execFromRow(row), nil
}

// Executions returns the latest n execution rows for a mission slug.
func (s *Store) Executions(slug string, n int) ([]*Execution, error) {
	rows, err := s.db.FetchAll(`
		SELECT * FROM mission_executions WHERE mission_slug = ?
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

func missionFromRow(row db.Row) *Mission {
	return &Mission{
		ID:             db.Int(row, "id"),
		Slug:           db.String(row, "slug"),
		Name:           db.String(row, "name"),
		Source:         db.String(row, "source"),
		PromptFile:     db.String(row, "prompt_file"),
		PromptInline:   db.String(row, "prompt_inline"),
		ScheduleTime:   db.String(row, "schedule_time"),
		ScheduleCron:   db.String(row, "schedule_cron"),
		TriggerType:    db.String(row, "trigger_type"),
		TriggerConfig:  db.String(row, "trigger_config"),
		TimeoutMinutes: int(db.Int(row, "timeout_minutes")),
		Role:           db.String(row, "role"),
		Mode:           db.String(row, "mode"),
		Enabled:        db.Bool(row, "enabled"),
		NextRun:        db.String(row, "next_run"),
		LastRun:        db.String(row, "last_run"),
		LastStatus:     db.String(row, "last_status"),
	}
}

func execFromRow(row db.Row) *Execution {
	return &Execution{
		ID:              db.String(row, "id"),
		MissionID:       db.Int(row, "mission_id"),
		MissionSlug:     db.String(row, "mission_slug"),
		StartedAt:       parseTime(db.String(row, "started_at")),
		EndedAt:         parseTime(db.String(row, "ended_at")),
		Status:          db.String(row, "status"),
		SessionID:       db.String(row, "session_id"),
		OutputSummary:   db.String(row, "output_summary"),
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
