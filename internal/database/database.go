// Package database journals sessions, matches and dispatched actions to
// SQLite.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"jordanella.com/autoclick-go/internal/logging"
)

// DB is a journal database handle
type DB struct {
	conn   *sql.DB
	path   string
	logger *logging.Logger
}

// Open opens the journal at path, creating its directory when needed.
// The schema is not touched; see OpenMigrated.
func Open(path string, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger("Journal")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	// one writer; the journal handler and CLI queries share it
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	return &DB{conn: conn, path: path, logger: logger}, nil
}

// OpenMigrated opens the journal and brings its schema up to date
func OpenMigrated(path string, logger *logging.Logger) (*DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return db, nil
}

// Close closes the connection
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Path returns the journal file path
func (db *DB) Path() string {
	return db.path
}

// ExecTx runs fn in a transaction, rolling back when it fails
func (db *DB) ExecTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// GetVersion returns the applied schema version
func (db *DB) GetVersion() (int, error) {
	return db.getCurrentVersion()
}

// Counts holds row counts per journal table
type Counts struct {
	Sessions      int64
	Actions       int64
	Matches       int64
	CaptureErrors int64
}

// Total is the number of journalled rows
func (c Counts) Total() int64 {
	return c.Sessions + c.Actions + c.Matches + c.CaptureErrors
}

// timestamped lists each journal table with the column Prune ages it by
var timestamped = []struct {
	table  string
	column string
}{
	{"action_log", "occurred_at"},
	{"match_log", "matched_at"},
	{"capture_errors", "occurred_at"},
	{"sessions", "started_at"},
}

// GetCounts returns row counts for the journal tables
func (db *DB) GetCounts() (Counts, error) {
	var c Counts
	dest := map[string]*int64{
		"sessions":       &c.Sessions,
		"action_log":     &c.Actions,
		"match_log":      &c.Matches,
		"capture_errors": &c.CaptureErrors,
	}
	for table, n := range dest {
		if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(n); err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}
	return c, nil
}

// Prune deletes journal rows recorded before cutoff and returns how many
// went. Sessions still open are kept.
func (db *DB) Prune(cutoff time.Time) (Counts, error) {
	var removed Counts
	dest := map[string]*int64{
		"sessions":       &removed.Sessions,
		"action_log":     &removed.Actions,
		"match_log":      &removed.Matches,
		"capture_errors": &removed.CaptureErrors,
	}

	err := db.ExecTx(func(tx *sql.Tx) error {
		for _, t := range timestamped {
			query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
			if t.table == "sessions" {
				query += " AND stopped_at IS NOT NULL"
			}
			res, err := tx.Exec(query, cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune %s: %w", t.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			*dest[t.table] = n
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}

	db.logger.InfoWithContext("Journal pruned", logging.Fields{
		"before": cutoff.Format(time.RFC3339), "rows": removed.Total(),
	})
	return removed, nil
}

// Vacuum reclaims the space freed by Prune
func (db *DB) Vacuum() error {
	_, err := db.conn.Exec("VACUUM")
	return err
}
