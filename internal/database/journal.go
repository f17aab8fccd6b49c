package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"jordanella.com/autoclick-go/internal/events"
	"jordanella.com/autoclick-go/internal/logging"
)

// Journal records bus events into the database. Events that arrive while a
// session is open are attributed to it.
type Journal struct {
	db            *DB
	bus           events.EventBus
	logger        *logging.Logger
	subscriptions []events.SubscriptionID

	mu        sync.Mutex
	sessionID sql.NullInt64
}

// NewJournal subscribes a journal to bus. The database must be migrated.
func NewJournal(db *DB, bus events.EventBus, logger *logging.Logger) *Journal {
	if logger == nil {
		logger = logging.NewDiscardLogger("Journal")
	}
	j := &Journal{db: db, bus: bus, logger: logger}

	handlers := map[events.EventType]events.EventHandler{
		events.EventTypeSessionStarted:   j.onSessionStarted,
		events.EventTypeSessionStopped:   j.onSessionStopped,
		events.EventTypeTemplateMatched:  j.onMatch,
		events.EventTypeCaptureFailed:    j.onCaptureFailed,
		events.EventTypeActionPerformed:  j.onAction,
		events.EventTypeActionSuppressed: j.onAction,
		events.EventTypeActionAborted:    j.onAction,
		events.EventTypeActionFailed:     j.onAction,
	}
	for t, h := range handlers {
		j.subscriptions = append(j.subscriptions, bus.Subscribe(t, h))
	}
	return j
}

// Close unsubscribes from the bus. The database stays open.
func (j *Journal) Close() {
	for _, id := range j.subscriptions {
		j.bus.Unsubscribe(id)
	}
	j.subscriptions = nil
}

func (j *Journal) currentSession() sql.NullInt64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sessionID
}

func (j *Journal) onSessionStarted(e events.Event) {
	id, err := j.db.StartSession(stringField(e, "region"), intField(e, "templates"), e.Timestamp)
	if err != nil {
		j.logger.Error("Failed to record session start", err)
		return
	}
	j.mu.Lock()
	j.sessionID = sql.NullInt64{Int64: id, Valid: true}
	j.mu.Unlock()
}

func (j *Journal) onSessionStopped(e events.Event) {
	j.mu.Lock()
	id := j.sessionID
	j.sessionID = sql.NullInt64{}
	j.mu.Unlock()

	if !id.Valid {
		return
	}
	if err := j.db.EndSession(id.Int64, e.Timestamp); err != nil {
		j.logger.Error("Failed to record session stop", err)
	}
}

func (j *Journal) onMatch(e events.Event) {
	rec := MatchRecord{
		SessionID:  j.currentSession(),
		Template:   stringField(e, "name"),
		Confidence: floatField(e, "confidence"),
		X:          intField(e, "x"),
		Y:          intField(e, "y"),
		Metric:     stringField(e, "metric"),
		Scale:      floatField(e, "scale"),
		MatchedAt:  e.Timestamp,
	}
	if _, err := j.db.LogMatch(rec); err != nil {
		j.logger.Error("Failed to record match", err)
	}
}

func (j *Journal) onAction(e events.Event) {
	rec := ActionRecord{
		SessionID:  j.currentSession(),
		Name:       stringField(e, "name"),
		Kind:       stringField(e, "kind"),
		Outcome:    outcomeFor(e.Type),
		X:          intField(e, "x"),
		Y:          intField(e, "y"),
		Reason:     stringField(e, "reason"),
		OccurredAt: e.Timestamp,
	}
	if _, err := j.db.LogAction(rec); err != nil {
		j.logger.Error("Failed to record action", err)
	}
}

func (j *Journal) onCaptureFailed(e events.Event) {
	rec := CaptureError{
		SessionID:  j.currentSession(),
		Region:     stringField(e, "region"),
		Message:    stringField(e, "error"),
		OccurredAt: e.Timestamp,
	}
	if _, err := j.db.LogCaptureError(rec); err != nil {
		j.logger.Error("Failed to record capture error", err)
	}
}

func outcomeFor(t events.EventType) string {
	switch t {
	case events.EventTypeActionPerformed:
		return "performed"
	case events.EventTypeActionSuppressed:
		return "suppressed"
	case events.EventTypeActionAborted:
		return "aborted"
	default:
		return "failed"
	}
}

func stringField(e events.Event, key string) string {
	if v, ok := e.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func intField(e events.Event, key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatField(e events.Event, key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Session operations

// StartSession inserts an open session row
func (db *DB) StartSession(region string, templates int, startedAt time.Time) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO sessions (region, templates, started_at) VALUES (?, ?, ?)
	`, region, templates, startedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	return res.LastInsertId()
}

// EndSession marks a session stopped
func (db *DB) EndSession(id int64, stoppedAt time.Time) error {
	_, err := db.conn.Exec(`UPDATE sessions SET stopped_at = ? WHERE id = ?`, stoppedAt, id)
	return err
}

// GetSession loads a session by ID
func (db *DB) GetSession(id int64) (*Session, error) {
	s := &Session{}
	err := db.conn.QueryRow(`
		SELECT id, region, templates, started_at, stopped_at FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Region, &s.Templates, &s.StartedAt, &s.StoppedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Action operations

// LogAction inserts a dispatch outcome
func (db *DB) LogAction(rec ActionRecord) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO action_log (session_id, name, kind, outcome, x, y, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Name, rec.Kind, rec.Outcome, rec.X, rec.Y, rec.Reason, rec.OccurredAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert action: %w", err)
	}
	return res.LastInsertId()
}

// RecentActions returns up to limit actions, newest first
func (db *DB) RecentActions(limit int) ([]ActionRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, COALESCE(name, ''), kind, outcome, x, y, COALESCE(reason, ''), occurred_at
		FROM action_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var r ActionRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Name, &r.Kind, &r.Outcome, &r.X, &r.Y, &r.Reason, &r.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActionCounts returns the number of journaled actions per outcome
func (db *DB) ActionCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT outcome, COUNT(*) FROM action_log GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// Match operations

// LogMatch inserts an accepted match
func (db *DB) LogMatch(rec MatchRecord) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO match_log (session_id, template, confidence, x, y, metric, scale, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Template, rec.Confidence, rec.X, rec.Y, rec.Metric, rec.Scale, rec.MatchedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert match: %w", err)
	}
	return res.LastInsertId()
}

// TemplateStats summarises matches per template, most matched first
func (db *DB) TemplateStats() ([]TemplateStats, error) {
	rows, err := db.conn.Query(`
		SELECT template, COUNT(*), AVG(confidence), MAX(confidence)
		FROM match_log
		GROUP BY template
		ORDER BY COUNT(*) DESC, template
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TemplateStats
	for rows.Next() {
		var s TemplateStats
		if err := rows.Scan(&s.Template, &s.Matches, &s.AvgConfidence, &s.MaxConfidence); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Capture error operations

// LogCaptureError inserts a failed grab
func (db *DB) LogCaptureError(rec CaptureError) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO capture_errors (session_id, region, error_message, occurred_at)
		VALUES (?, ?, ?, ?)
	`, rec.SessionID, rec.Region, rec.Message, rec.OccurredAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert capture error: %w", err)
	}
	return res.LastInsertId()
}

// CaptureErrorCount returns the number of failed grabs in a session
func (db *DB) CaptureErrorCount(sessionID int64) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM capture_errors WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
