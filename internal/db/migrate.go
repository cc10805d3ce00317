package db

import (
	"fmt"
	"time"
)

// SchemaVersion is the current migration level. The installed_apps row for
// app "system" records the level a database has reached.
const SchemaVersion = 3

// baseSchema is migration step 1: every table, idempotent.
const baseSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    claude_session_uuid TEXT,
    tmux_pane TEXT,
    conversation_id TEXT,
    parent_session_id TEXT,
    mission_execution_id TEXT,
    role TEXT NOT NULL DEFAULT '',
    mode TEXT NOT NULL DEFAULT 'interactive',
    current_state TEXT NOT NULL DEFAULT 'active',
    context_warning_level INTEGER NOT NULL DEFAULT 0,
    subscribed_by TEXT,
    has_pinged INTEGER NOT NULL DEFAULT 0,
    transcript_path TEXT,
    cwd TEXT,
    description TEXT,
    started_at TEXT,
    last_seen_at TEXT,
    ended_at TEXT,
    end_reason TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_pane ON sessions(tmux_pane);
CREATE INDEX IF NOT EXISTS idx_sessions_conversation ON sessions(conversation_id);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);

CREATE TABLE IF NOT EXISTS handoffs (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT,
    mode TEXT,
    tmux_pane TEXT,
    conversation_id TEXT,
    parent_session_id TEXT,
    mission_execution_id TEXT,
    reason TEXT NOT NULL,
    handoff_file TEXT,
    handoff_content TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    requested_at TEXT NOT NULL,
    executed_at TEXT,
    completed_at TEXT,
    new_session_id TEXT,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_handoffs_session ON handoffs(session_id, status);

CREATE TABLE IF NOT EXISTS chief_duties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    schedule_time TEXT NOT NULL,
    prompt_file TEXT,
    timeout_minutes INTEGER NOT NULL DEFAULT 15,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_run TEXT,
    last_status TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chief_duty_executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    duty_id INTEGER NOT NULL,
    duty_slug TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    status TEXT NOT NULL,
    session_id TEXT,
    error_message TEXT,
    duration_seconds REAL
);

CREATE TABLE IF NOT EXISTS missions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'user',
    prompt_file TEXT,
    prompt_inline TEXT,
    schedule_time TEXT,
    schedule_cron TEXT,
    trigger_type TEXT,
    timeout_minutes INTEGER NOT NULL DEFAULT 30,
    role TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT 'mission',
    enabled INTEGER NOT NULL DEFAULT 1,
    next_run TEXT,
    last_run TEXT,
    last_status TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mission_executions (
    id TEXT PRIMARY KEY,
    mission_id INTEGER,
    mission_slug TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    status TEXT NOT NULL,
    session_id TEXT,
    output_summary TEXT,
    error_message TEXT,
    duration_seconds REAL
);

CREATE TABLE IF NOT EXISTS triggers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    time_spec TEXT NOT NULL,
    prompt TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_run TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reply_injections (
    specialist_session_id TEXT NOT NULL,
    chief_session_id TEXT NOT NULL,
    message_position INTEGER NOT NULL,
    injected_at TEXT NOT NULL,
    PRIMARY KEY (specialist_session_id, message_position)
);

CREATE TABLE IF NOT EXISTS installed_apps (
    app TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    installed_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// Migrate brings the database to SchemaVersion. Every step is idempotent,
// so replaying on an up-to-date database is harmless.
func (d *DB) Migrate() error {
	if _, err := d.sql.Exec(baseSchema); err != nil {
		return fmt.Errorf("applying base schema: %w", err)
	}

	// Step 2: status text surfaced by `cos session status`.
	if err := d.ensureColumn("sessions", "status_text", "TEXT"); err != nil {
		return err
	}

	// Step 3: handoff replacements read their spec from here; mission
	// triggers grew a config payload.
	if err := d.ensureColumn("sessions", "spec_path", "TEXT"); err != nil {
		return err
	}
	if err := d.ensureColumn("missions", "trigger_config", "TEXT"); err != nil {
		return err
	}

	return d.markVersion(SchemaVersion)
}

// ensureColumn adds a column if the table does not already have it.
func (d *DB) ensureColumn(table, column, decl string) error {
	rows, err := d.FetchAll(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	for _, row := range rows {
		if String(row, "name") == column {
			return nil
		}
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)
	if _, err := d.sql.Exec(stmt); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// markVersion upserts the migration marker row in installed_apps.
func (d *DB) markVersion(version int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.sql.Exec(`
		INSERT INTO installed_apps (app, version, installed_at, updated_at)
		VALUES ('system', ?, ?, ?)
		ON CONFLICT(app) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, version, now, now)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// Version reports the migration level recorded in installed_apps, or 0 for
// a fresh database.
func (d *DB) Version() (int, error) {
	row, err := d.FetchOne(`SELECT version FROM installed_apps WHERE app = 'system'`)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	return int(Int(row, "version")), nil
}

// RegisterApp records an installed application and its schema version.
func (d *DB) RegisterApp(app string, version int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.sql.Exec(`
		INSERT INTO installed_apps (app, version, installed_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(app) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, app, version, now, now)
	if err != nil {
		return fmt.Errorf("registering app %s: %w", app, err)
	}
	return nil
}

// InstalledApps lists the app registry rows.
func (d *DB) InstalledApps() ([]Row, error) {
	return d.FetchAll(`SELECT app, version, installed_at, updated_at FROM installed_apps ORDER BY app`)
}
