package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *HistoryDB {
	t.Helper()
	db, err := NewHistoryDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db
}

// TestDatabaseCreation verifies database file creation and initialization
func TestDatabaseCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := NewHistoryDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file not created at %s", dbPath)
	}

	var journalMode string
	if err := db.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var version int
	if err := db.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

// TestReopenKeepsEvents verifies the schema setup is idempotent
func TestReopenKeepsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := NewHistoryDB(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.RecordEvent(Event{Action: ActionBury, Original: "/a", Graveyard: "/g"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = NewHistoryDB(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	events, err := db.GetRecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events after reopen, want 1", len(events))
	}
}

func TestRecordEvent(t *testing.T) {
	db := openTestDB(t)

	ts := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	stored, err := db.RecordEvent(Event{
		Timestamp:  ts,
		Action:     ActionBury,
		Original:   "/tmp/a/file.txt",
		Grave:      "/g/tmp/a/file.txt",
		ObjectType: ObjectType(false),
		Size:       42,
		Graveyard:  "/g",
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if len(stored.ID) != 36 {
		t.Errorf("expected a UUID id, got %q", stored.ID)
	}

	events, err := db.GetRecentEvents(10)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.ID != stored.ID || got.Original != "/tmp/a/file.txt" || got.Grave != "/g/tmp/a/file.txt" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Size != 42 || got.ObjectType != "file" || got.Graveyard != "/g" {
		t.Errorf("unexpected event fields: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", got.ErrorMessage)
	}
}

func TestNullFieldHandling(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.RecordEvent(Event{
		Action:       ActionError,
		Original:     "/x",
		Graveyard:    "/g",
		ErrorMessage: "access denied",
	}); err != nil {
		t.Fatal(err)
	}

	events, err := db.GetEventsByAction(ActionError)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Grave != "" {
		t.Errorf("Grave = %q, want empty", events[0].Grave)
	}
	if events[0].ErrorMessage != "access denied" {
		t.Errorf("ErrorMessage = %q", events[0].ErrorMessage)
	}
	if events[0].ObjectType != "file" {
		t.Errorf("ObjectType default = %q", events[0].ObjectType)
	}
}

func seed(t *testing.T, db *HistoryDB) time.Time {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	events := []Event{
		{Action: ActionBury, Original: "/home/u/a.txt", Size: 100},
		{Action: ActionBury, Original: "/home/u/a.txt", Size: 300},
		{Action: ActionBury, Original: "/srv/big", ObjectType: ObjectType(true), Size: 5000},
		{Action: ActionExhume, Original: "/home/u/a.txt", Size: 300},
		{Action: ActionPrune, Original: "/srv/gone"},
		{Action: ActionUnlink, Original: "/g/tmp/x"},
		{Action: ActionError, Original: "/etc", ErrorMessage: "protected path"},
	}
	for i, e := range events {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		e.Graveyard = "/g"
		if _, err := db.RecordEvent(e); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	return base
}

func TestQueryMethods(t *testing.T) {
	db := openTestDB(t)
	base := seed(t, db)

	t.Run("recent", func(t *testing.T) {
		events, err := db.GetRecentEvents(3)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 3 || events[0].Action != ActionError {
			t.Errorf("unexpected recent events: %+v", events)
		}
	})

	t.Run("by action", func(t *testing.T) {
		events, err := db.GetEventsByAction(ActionBury)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 3 {
			t.Errorf("got %d BURY events, want 3", len(events))
		}
	})

	t.Run("by path", func(t *testing.T) {
		events, err := db.GetEventsByPath("/home/u/%")
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 3 {
			t.Errorf("got %d events under /home/u, want 3", len(events))
		}
	})

	t.Run("date range", func(t *testing.T) {
		events, err := db.GetEventsByDateRange(base.Add(90*time.Second), base.Add(210*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Errorf("got %d events in range, want 2", len(events))
		}
	})

	t.Run("largest", func(t *testing.T) {
		events, err := db.GetLargestBuries(1)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].Original != "/srv/big" || events[0].ObjectType != "directory" {
			t.Errorf("unexpected largest: %+v", events)
		}
	})

	t.Run("top paths", func(t *testing.T) {
		top, err := db.GetTopBuriedPaths(1)
		if err != nil {
			t.Fatal(err)
		}
		if top["/home/u/a.txt"] != 2 {
			t.Errorf("unexpected top paths: %v", top)
		}
	})

	t.Run("paginated", func(t *testing.T) {
		page, total, err := db.GetRecentEventsPaginated(2, 2)
		if err != nil {
			t.Fatal(err)
		}
		if total != 7 || len(page) != 2 {
			t.Errorf("total=%d page=%d", total, len(page))
		}
		if page[0].Action != ActionPrune {
			t.Errorf("page starts at %s, want PRUNE", page[0].Action)
		}
	})
}

func TestHistoryStats(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)

	stats, err := db.GetHistoryStats(1)
	if err != nil {
		t.Fatalf("GetHistoryStats: %v", err)
	}
	if stats.TotalBuried != 3 || stats.TotalExhumed != 1 || stats.TotalPruned != 1 ||
		stats.TotalUnlinked != 1 || stats.TotalErrors != 1 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if stats.BytesBuried != 5400 {
		t.Errorf("BytesBuried = %d, want 5400", stats.BytesBuried)
	}

	dbStats, err := db.GetDatabaseStats()
	if err != nil {
		t.Fatalf("GetDatabaseStats: %v", err)
	}
	if dbStats.TotalEvents != 7 || dbStats.SizeBytes <= 0 {
		t.Errorf("unexpected db stats: %+v", dbStats)
	}
	if dbStats.Oldest.IsZero() || dbStats.Newest.Before(dbStats.Oldest) {
		t.Errorf("unexpected date range: %v .. %v", dbStats.Oldest, dbStats.Newest)
	}
}

func TestDeleteOldEventsAndVacuum(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().AddDate(0, 0, -40)
	for i := 0; i < 3; i++ {
		if _, err := db.RecordEvent(Event{Timestamp: old, Action: ActionBury, Original: fmt.Sprintf("/old/%d", i), Graveyard: "/g"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.RecordEvent(Event{Action: ActionBury, Original: "/new", Graveyard: "/g"}); err != nil {
		t.Fatal(err)
	}

	n, err := db.DeleteOldEvents(30)
	if err != nil {
		t.Fatalf("DeleteOldEvents: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}
	if err := db.Vacuum(); err != nil {
		t.Errorf("Vacuum: %v", err)
	}
}

// TestConcurrentWriters verifies separate handles can write at once
func TestConcurrentWriters(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	const writers, perWriter = 4, 25

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter+writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			db, err := NewHistoryDB(dbPath)
			if err != nil {
				errs <- err
				return
			}
			defer db.Close()
			for i := 0; i < perWriter; i++ {
				if _, err := db.RecordEvent(Event{Action: ActionBury, Original: fmt.Sprintf("/w%d/%d", w, i), Graveyard: "/g"}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write: %v", err)
	}

	db, err := NewHistoryDB(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stats, err := db.GetDatabaseStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != writers*perWriter {
		t.Errorf("TotalEvents = %d, want %d", stats.TotalEvents, writers*perWriter)
	}
}

func TestDatabaseErrorHandling(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHistoryDB(filepath.Join(blocker, "history.db")); err == nil {
		t.Error("expected an error when the parent is a regular file")
	}
}
