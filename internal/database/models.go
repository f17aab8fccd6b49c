package database

import (
	"database/sql"
	"time"
)

// Session is one monitoring run
type Session struct {
	ID        int64
	Region    string
	Templates int
	StartedAt time.Time
	StoppedAt sql.NullTime
}

// ActionRecord is one dispatch outcome
type ActionRecord struct {
	ID         int64
	SessionID  sql.NullInt64
	Name       string
	Kind       string
	Outcome    string
	X, Y       int
	Reason     string
	OccurredAt time.Time
}

// MatchRecord is one accepted template match
type MatchRecord struct {
	ID         int64
	SessionID  sql.NullInt64
	Template   string
	Confidence float64
	X, Y       int
	Metric     string
	Scale      float64
	MatchedAt  time.Time
}

// CaptureError is one failed frame grab
type CaptureError struct {
	ID         int64
	SessionID  sql.NullInt64
	Region     string
	Message    string
	OccurredAt time.Time
}

// TemplateStats summarises matches for one template
type TemplateStats struct {
	Template      string
	Matches       int
	AvgConfidence float64
	MaxConfidence float64
}
