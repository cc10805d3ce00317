// Package db provides the embedded SQLite storage layer.
//
// Access goes through a thin wrapper: Execute, FetchOne, FetchAll, and a
// Transaction scope. Rows come back as name-keyed maps so callers stay
// decoupled from column order. WAL is enabled; callers keep transactions
// short.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/util"
)

// Row is a single result row keyed by column name.
type Row = map[string]interface{}

// DB wraps the SQLite handle.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens (creating if needed) the database at the given file path.
// The busy timeout keeps concurrent writers from failing fast; WAL keeps
// readers from blocking them.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	handle, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes in-process writers; cross-process writers
	// are handled by the busy timeout.
	handle.SetMaxOpenConns(1)

	return &DB{sql: handle, path: path}, nil
}

// OpenWorkspace opens the workspace database under <root>/.engine/data/db/.
func OpenWorkspace(root string) (*DB, error) {
	return Open(constants.DatabasePath(root))
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.sql != nil {
		return d.sql.Close()
	}
	return nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Handle exposes the underlying *sql.DB for callers that need prepared
// statements or sql.Tx directly.
func (d *DB) Handle() *sql.DB {
	return d.sql
}

// retryCfg retries statements that hit transient lock contention.
var retryCfg = util.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	Multiplier:   2.0,
	Jitter:       true,
}

// Execute runs a statement and returns rows-affected.
func (d *DB) Execute(query string, args ...interface{}) (int64, error) {
	res, err := util.Retry(context.Background(), retryCfg, func() (sql.Result, error) {
		return d.sql.Exec(query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// ExecuteInsert runs an INSERT and returns the last-insert rowid.
func (d *DB) ExecuteInsert(query string, args ...interface{}) (int64, error) {
	res, err := util.Retry(context.Background(), retryCfg, func() (sql.Result, error) {
		return d.sql.Exec(query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// FetchOne returns the first result row, or nil if there are none.
func (d *DB) FetchOne(query string, args ...interface{}) (Row, error) {
	rows, err := d.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchAll returns every result row as a name-keyed map.
func (d *DB) FetchAll(query string, args ...interface{}) ([]Row, error) {
	rows, err := util.Retry(context.Background(), retryCfg, func() (*sql.Rows, error) {
		return d.sql.Query(query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Transaction runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (d *DB) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// normalize converts driver byte slices to strings so map consumers can
// type-assert TEXT columns uniformly.
func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// String reads a TEXT column from a row, tolerating NULL.
func String(row Row, col string) string {
	if row == nil {
		return ""
	}
	if s, ok := row[col].(string); ok {
		return s
	}
	return ""
}

// Int reads an INTEGER column from a row, tolerating NULL.
func Int(row Row, col string) int64 {
	if row == nil {
		return 0
	}
	switch v := row[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Bool reads a 0/1 INTEGER column from a row.
func Bool(row Row, col string) bool {
	return Int(row, col) != 0
}

// Float reads a REAL column from a row, tolerating NULL.
func Float(row Row, col string) float64 {
	if row == nil {
		return 0
	}
	switch v := row[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
