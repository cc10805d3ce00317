package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate())
	return d
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".engine", "data", "db", "system.db")
	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Migrate())
	assert.Equal(t, path, d.Path())
}

func TestMigrateCreatesTables(t *testing.T) {
	d := openTestDB(t)

	tables := []string{
		"sessions", "handoffs", "chief_duties", "chief_duty_executions",
		"missions", "mission_executions", "triggers", "reply_injections",
		"installed_apps",
	}
	for _, table := range tables {
		row, err := d.FetchOne(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		require.NoError(t, err)
		assert.NotNil(t, row, "table %s missing", table)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	d := openTestDB(t)

	// Replaying all steps must be harmless.
	require.NoError(t, d.Migrate())
	require.NoError(t, d.Migrate())

	version, err := d.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestMigrateRecordsMarker(t *testing.T) {
	d := openTestDB(t)

	row, err := d.FetchOne(`SELECT app, version FROM installed_apps WHERE app = 'system'`)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(SchemaVersion), Int(row, "version"))
}

func TestMigrateAddsLaterColumns(t *testing.T) {
	d := openTestDB(t)

	// Columns added by steps 2 and 3 must be writable.
	_, err := d.Execute(`
		INSERT INTO sessions (session_id, role, status_text, spec_path, created_at, updated_at)
		VALUES ('ab12cd34', 'chief', 'triaging email', '/tmp/handoff.md', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
	`)
	require.NoError(t, err)

	row, err := d.FetchOne(`SELECT status_text, spec_path FROM sessions WHERE session_id = 'ab12cd34'`)
	require.NoError(t, err)
	assert.Equal(t, "triaging email", String(row, "status_text"))
	assert.Equal(t, "/tmp/handoff.md", String(row, "spec_path"))
}

func TestVersionFreshDatabase(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer d.Close()

	// Version before Migrate: the table may not exist yet.
	_, verr := d.Version()
	assert.Error(t, verr)

	require.NoError(t, d.Migrate())
	version, err := d.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestExecuteAndFetch(t *testing.T) {
	d := openTestDB(t)

	affected, err := d.Execute(`
		INSERT INTO sessions (session_id, role, mode, created_at, updated_at)
		VALUES ('ab12cd34', 'researcher', 'interactive', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	t.Run("FetchOne hit", func(t *testing.T) {
		row, err := d.FetchOne(`SELECT * FROM sessions WHERE session_id = ?`, "ab12cd34")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "researcher", String(row, "role"))
		assert.Equal(t, "active", String(row, "current_state"))
	})

	t.Run("FetchOne miss returns nil nil", func(t *testing.T) {
		row, err := d.FetchOne(`SELECT * FROM sessions WHERE session_id = ?`, "nope")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("FetchAll", func(t *testing.T) {
		_, err := d.Execute(`
			INSERT INTO sessions (session_id, role, created_at, updated_at)
			VALUES ('ef56ab78', 'writer', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
		`)
		require.NoError(t, err)

		rows, err := d.FetchAll(`SELECT session_id FROM sessions ORDER BY session_id`)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "ab12cd34", String(rows[0], "session_id"))
		assert.Equal(t, "ef56ab78", String(rows[1], "session_id"))
	})
}

func TestExecuteInsertRowID(t *testing.T) {
	d := openTestDB(t)

	id, err := d.ExecuteInsert(`
		INSERT INTO chief_duties (slug, name, schedule_time, created_at, updated_at)
		VALUES ('morning-reset', 'Morning Reset', '06:00', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
	`)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
}

func TestTransactionCommit(t *testing.T) {
	d := openTestDB(t)

	err := d.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO sessions (session_id, role, created_at, updated_at)
			VALUES ('ab12cd34', 'chief', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
		`); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE sessions SET current_state = 'idle' WHERE session_id = 'ab12cd34'`)
		return err
	})
	require.NoError(t, err)

	row, err := d.FetchOne(`SELECT current_state FROM sessions WHERE session_id = 'ab12cd34'`)
	require.NoError(t, err)
	assert.Equal(t, "idle", String(row, "current_state"))
}

func TestTransactionRollback(t *testing.T) {
	d := openTestDB(t)

	boom := errors.New("boom")
	err := d.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO sessions (session_id, role, created_at, updated_at)
			VALUES ('ab12cd34', 'chief', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
		`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	row, err := d.FetchOne(`SELECT * FROM sessions WHERE session_id = 'ab12cd34'`)
	require.NoError(t, err)
	assert.Nil(t, row, "insert should have rolled back")
}

func TestReplyInjectionPrimaryKey(t *testing.T) {
	d := openTestDB(t)

	_, err := d.Execute(`
		INSERT INTO reply_injections (specialist_session_id, chief_session_id, message_position, injected_at)
		VALUES ('ghi54321', 'jkl98765', 3, '2025-06-01T00:00:00Z')
	`)
	require.NoError(t, err)

	// Same (specialist, position) must be rejected.
	_, err = d.Execute(`
		INSERT INTO reply_injections (specialist_session_id, chief_session_id, message_position, injected_at)
		VALUES ('ghi54321', 'jkl98765', 3, '2025-06-01T00:01:00Z')
	`)
	assert.Error(t, err)

	// Same position for a different specialist is fine.
	_, err = d.Execute(`
		INSERT INTO reply_injections (specialist_session_id, chief_session_id, message_position, injected_at)
		VALUES ('other999', 'jkl98765', 3, '2025-06-01T00:01:00Z')
	`)
	assert.NoError(t, err)
}

func TestRegisterApp(t *testing.T) {
	d := openTestDB(t)

	require.NoError(t, d.RegisterApp("email", 2))
	require.NoError(t, d.RegisterApp("email", 3))

	apps, err := d.InstalledApps()
	require.NoError(t, err)
	require.Len(t, apps, 2) // system + email

	var found bool
	for _, app := range apps {
		if String(app, "app") == "email" {
			found = true
			assert.Equal(t, int64(3), Int(app, "version"))
		}
	}
	assert.True(t, found)
}

func TestRowHelpers(t *testing.T) {
	tests := []struct {
		name  string
		check func(t *testing.T)
	}{
		{"String on nil row", func(t *testing.T) {
			assert.Equal(t, "", String(nil, "x"))
		}},
		{"String on missing col", func(t *testing.T) {
			assert.Equal(t, "", String(Row{"a": "b"}, "x"))
		}},
		{"String on NULL", func(t *testing.T) {
			assert.Equal(t, "", String(Row{"x": nil}, "x"))
		}},
		{"Int variants", func(t *testing.T) {
			assert.Equal(t, int64(7), Int(Row{"x": int64(7)}, "x"))
			assert.Equal(t, int64(7), Int(Row{"x": float64(7)}, "x"))
			assert.Equal(t, int64(0), Int(Row{"x": nil}, "x"))
		}},
		{"Bool", func(t *testing.T) {
			assert.True(t, Bool(Row{"x": int64(1)}, "x"))
			assert.False(t, Bool(Row{"x": int64(0)}, "x"))
			assert.False(t, Bool(nil, "x"))
		}},
		{"Float", func(t *testing.T) {
			assert.Equal(t, 2.5, Float(Row{"x": 2.5}, "x"))
			assert.Equal(t, 3.0, Float(Row{"x": int64(3)}, "x"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.check)
	}
}

func TestNormalizeBytes(t *testing.T) {
	d := openTestDB(t)

	_, err := d.Execute(`
		INSERT INTO sessions (session_id, role, created_at, updated_at)
		VALUES ('ab12cd34', 'chief', '2025-06-01T00:00:00Z', '2025-06-01T00:00:00Z')
	`)
	require.NoError(t, err)

	// CAST forces the driver down the []byte path; the wrapper must still
	// hand back a string.
	row, err := d.FetchOne(`SELECT CAST(role AS BLOB) AS role FROM sessions WHERE session_id = 'ab12cd34'`)
	require.NoError(t, err)
	assert.Equal(t, "chief", String(row, "role"))
}
