package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Actions stored in the history.
const (
	ActionBury      = "BURY"
	ActionExhume    = "EXHUME"
	ActionPrune     = "PRUNE"
	ActionUnlink    = "UNLINK"
	ActionReap      = "REAP"
	ActionDecompose = "DECOMPOSE"
	ActionError     = "ERROR"
)

// sqliteTimeLayout is how go-sqlite3 writes time.Time values.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// HistoryDB is an audit trail of graveyard operations. It is advisory:
// the record inside the graveyard stays authoritative for what can be
// restored, this only remembers what happened.
type HistoryDB struct {
	db *sql.DB
}

// Event is one audited operation.
type Event struct {
	ID           string
	Timestamp    time.Time
	Action       string
	Original     string
	Grave        string
	ObjectType   string
	Size         int64
	Graveyard    string
	ErrorMessage string
}

// NewHistoryDB opens (creating if needed) the history database at dbPath.
func NewHistoryDB(dbPath string) (*HistoryDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// several rip processes may write at once; let SQLite wait on its own
	// lock instead of failing with SQLITE_BUSY
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// Ping does not create the file; a query does
	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	hdb := &HistoryDB{db: db}
	if err = hdb.initSchema(); err != nil {
		return nil, err
	}
	return hdb, nil
}

// initSchema creates tables and indexes if they don't exist
func (h *HistoryDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		action TEXT NOT NULL,
		original TEXT NOT NULL,
		grave TEXT,
		object_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		graveyard TEXT NOT NULL,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_action ON events(action);
	CREATE INDEX IF NOT EXISTS idx_events_original ON events(original);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := h.db.Exec(schema)
	return err
}

// RecordEvent inserts e, assigning an ID and timestamp when they are unset.
// The stored event is returned.
func (h *HistoryDB) RecordEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ObjectType == "" {
		e.ObjectType = "file"
	}

	_, err := h.db.Exec(`
	INSERT INTO events (
		id, timestamp, action, original, grave, object_type, size, graveyard, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Timestamp.UTC(),
		e.Action,
		e.Original,
		nullString(e.Grave),
		e.ObjectType,
		e.Size,
		e.Graveyard,
		nullString(e.ErrorMessage),
	)
	if err != nil {
		return Event{}, fmt.Errorf("record %s event for %s: %w", e.Action, e.Original, err)
	}
	return e, nil
}

// ObjectType names the kind of a buried item.
func ObjectType(isDir bool) string {
	if isDir {
		return "directory"
	}
	return "file"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Close closes the database connection
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

// Vacuum optimizes the database (run periodically)
func (h *HistoryDB) Vacuum() error {
	_, err := h.db.Exec("VACUUM")
	return err
}

// DatabaseStats describes the database itself rather than its contents.
type DatabaseStats struct {
	TotalEvents int64
	SizeBytes   int64
	Oldest      time.Time
	Newest      time.Time
}

// GetDatabaseStats returns database statistics
func (h *HistoryDB) GetDatabaseStats() (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	if err := h.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := h.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := h.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	stats.SizeBytes = pageCount * pageSize

	// MIN/MAX lose the column type, so the driver hands back text
	var oldest, newest sql.NullString
	err := h.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM events").Scan(&oldest, &newest)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	stats.Oldest = parseSQLiteTime(oldest)
	stats.Newest = parseSQLiteTime(newest)
	return stats, nil
}

func parseSQLiteTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
