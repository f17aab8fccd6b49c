package database

import (
	"database/sql"
	"fmt"
	"time"

	"jordanella.com/autoclick-go/internal/logging"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create sessions table",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create action_log and match_log tables",
		Up:          migration003Up,
		Down:        migration003Down,
	},
	{
		Version:     4,
		Description: "Create capture_errors table",
		Up:          migration004Up,
		Down:        migration004Down,
	},
}

// LatestVersion is the schema version after all migrations
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		db.logger.InfoWithContext("Running migration", logging.Fields{
			"version": migration.Version, "description": migration.Description,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now())

			return err
		})

		if err != nil {
			return err
		}
	}

	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)

	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Schema version tracking table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version`)
	return err
}

// Migration 002: Monitoring sessions
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			region TEXT NOT NULL,
			templates INTEGER DEFAULT 0,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME
		);
	`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS sessions`)
	return err
}

// Migration 003: Dispatch and match journal
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE action_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER REFERENCES sessions(id) ON DELETE SET NULL,
			name TEXT,
			kind TEXT NOT NULL,
			outcome TEXT NOT NULL,
			x INTEGER,
			y INTEGER,
			reason TEXT,
			occurred_at DATETIME NOT NULL
		);

		CREATE INDEX idx_action_log_name ON action_log(name);
		CREATE INDEX idx_action_log_occurred ON action_log(occurred_at);

		CREATE TABLE match_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER REFERENCES sessions(id) ON DELETE SET NULL,
			template TEXT NOT NULL,
			confidence REAL NOT NULL,
			x INTEGER,
			y INTEGER,
			metric TEXT,
			scale REAL,
			matched_at DATETIME NOT NULL
		);

		CREATE INDEX idx_match_log_template ON match_log(template);
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP TABLE IF EXISTS match_log;
		DROP TABLE IF EXISTS action_log;
	`)
	return err
}

// Migration 004: Capture failures
func migration004Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE capture_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER REFERENCES sessions(id) ON DELETE SET NULL,
			region TEXT,
			error_message TEXT NOT NULL,
			occurred_at DATETIME NOT NULL
		);
	`)
	return err
}

func migration004Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS capture_errors`)
	return err
}
