package database

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jordanella.com/autoclick-go/internal/events"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	db, err := OpenMigrated(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("Expected version %d, got %d", LatestVersion(), version)
	}

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Running again is a no-op
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}

	counts, err := db.GetCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts != (Counts{}) {
		t.Errorf("fresh journal counts = %+v", counts)
	}
}

func TestActionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []ActionRecord{
		{Name: "ok", Kind: "click", Outcome: "performed", X: 10, Y: 20, OccurredAt: base},
		{Name: "ok", Kind: "click", Outcome: "suppressed", Reason: "cooling_down", OccurredAt: base.Add(time.Second)},
		{Name: "drag", Kind: "drag", Outcome: "performed", X: 5, Y: 6, OccurredAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if _, err := db.LogAction(r); err != nil {
			t.Fatalf("LogAction: %v", err)
		}
	}

	recent, err := db.RecentActions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Name != "drag" || recent[1].Reason != "cooling_down" {
		t.Errorf("recent = %+v", recent)
	}
	if !recent[0].OccurredAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("occurred_at = %v", recent[0].OccurredAt)
	}

	counts, err := db.ActionCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["performed"] != 2 || counts["suppressed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestTemplateStats(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	for _, c := range []float64{0.92, 0.98} {
		if _, err := db.LogMatch(MatchRecord{Template: "play", Confidence: c, Metric: "gray", Scale: 1, MatchedAt: now}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.LogMatch(MatchRecord{Template: "close", Confidence: 0.95, Metric: "edge", Scale: 0.9, MatchedAt: now}); err != nil {
		t.Fatal(err)
	}

	stats, err := db.TemplateStats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 || stats[0].Template != "play" || stats[0].Matches != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].MaxConfidence != 0.98 || stats[0].AvgConfidence < 0.949 || stats[0].AvgConfidence > 0.951 {
		t.Errorf("play stats = %+v", stats[0])
	}
}

func TestExecTxRollback(t *testing.T) {
	db := openTestDB(t)

	boom := errors.New("boom")
	err := db.ExecTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO sessions (region, started_at) VALUES ('r', ?)`, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ExecTx error = %v", err)
	}

	counts, _ := db.GetCounts()
	if counts.Sessions != 0 {
		t.Errorf("rolled back insert persisted: %d sessions", counts.Sessions)
	}
}

func TestJournalRecordsBusEvents(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewEventBus(64)
	journal := NewJournal(db, bus, nil)

	bus.Publish(events.NewSessionEvent(events.EventTypeSessionStarted, "0,0,800,600(physical)", 3))
	bus.Publish(events.NewTemplateMatchedEvent("play", 0.97, 12, 34, "gray", 1.0))
	bus.Publish(events.NewActionEvent(events.EventTypeActionPerformed, "play", "click", 40, 50, ""))
	bus.Publish(events.NewActionEvent(events.EventTypeActionSuppressed, "play", "click", 40, 50, "busy"))
	bus.Publish(events.NewCaptureFailedEvent("0,0,800,600(physical)", errors.New("grab failed")))
	bus.Publish(events.NewSessionEvent(events.EventTypeSessionStopped, "0,0,800,600(physical)", 3))
	bus.Stop()
	journal.Close()

	actions, err := db.RecentActions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("journaled %d actions, want 2", len(actions))
	}
	for _, a := range actions {
		if !a.SessionID.Valid {
			t.Errorf("action %+v not attributed to a session", a)
		}
	}

	session, err := db.GetSession(actions[0].SessionID.Int64)
	if err != nil {
		t.Fatal(err)
	}
	if session.Templates != 3 || !session.StoppedAt.Valid {
		t.Errorf("session = %+v", session)
	}

	n, err := db.CaptureErrorCount(session.ID)
	if err != nil || n != 1 {
		t.Errorf("capture errors = %d, %v", n, err)
	}

	stats, err := db.TemplateStats()
	if err != nil || len(stats) != 1 || stats[0].Template != "play" {
		t.Errorf("template stats = %+v, %v", stats, err)
	}
}

func TestPruneKeepsRecentRowsAndOpenSessions(t *testing.T) {
	db := openTestDB(t)
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old, recent := cutoff.Add(-48*time.Hour), cutoff.Add(time.Hour)

	closed, err := db.StartSession("a", 1, old)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EndSession(closed, old.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.StartSession("b", 1, old); err != nil {
		t.Fatal(err)
	}

	for _, at := range []time.Time{old, recent} {
		if _, err := db.LogAction(ActionRecord{Name: "ok", Kind: "click", Outcome: "performed", OccurredAt: at}); err != nil {
			t.Fatal(err)
		}
		if _, err := db.LogMatch(MatchRecord{Template: "ok", Confidence: 0.9, MatchedAt: at}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.LogCaptureError(CaptureError{Region: "r", Message: "grab failed", OccurredAt: old}); err != nil {
		t.Fatal(err)
	}

	removed, err := db.Prune(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	want := Counts{Sessions: 1, Actions: 1, Matches: 1, CaptureErrors: 1}
	if removed != want {
		t.Errorf("removed = %+v, want %+v", removed, want)
	}
	if removed.Total() != 4 {
		t.Errorf("Total = %d", removed.Total())
	}

	left, err := db.GetCounts()
	if err != nil {
		t.Fatal(err)
	}
	if left != (Counts{Sessions: 1, Actions: 1, Matches: 1}) {
		t.Errorf("remaining = %+v", left)
	}
	if err := db.Vacuum(); err != nil {
		t.Errorf("Vacuum: %v", err)
	}
}
