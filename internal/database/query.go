package database

import (
	"database/sql"
	"time"
)

const selectEvents = `
	SELECT id, timestamp, action, original, grave, object_type, size, graveyard, error_message
	FROM events
`

// GetRecentEvents returns the N most recent events
func (h *HistoryDB) GetRecentEvents(limit int) ([]Event, error) {
	return h.queryEvents(selectEvents+`
	ORDER BY timestamp DESC
	LIMIT ?
	`, limit)
}

// GetRecentEventsPaginated returns a page of recent events with the total count
func (h *HistoryDB) GetRecentEventsPaginated(limit, offset int) ([]Event, int, error) {
	var totalCount int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	events, err := h.queryEvents(selectEvents+`
	ORDER BY timestamp DESC
	LIMIT ? OFFSET ?
	`, limit, offset)
	return events, totalCount, err
}

// GetEventsByDateRange returns events within a time range
func (h *HistoryDB) GetEventsByDateRange(start, end time.Time) ([]Event, error) {
	return h.queryEvents(selectEvents+`
	WHERE timestamp BETWEEN ? AND ?
	ORDER BY timestamp DESC
	`, start.UTC(), end.UTC())
}

// GetEventsByAction returns events filtered by action type
func (h *HistoryDB) GetEventsByAction(action string) ([]Event, error) {
	return h.queryEvents(selectEvents+`
	WHERE action = ?
	ORDER BY timestamp DESC
	`, action)
}

// GetEventsByPath returns events whose original path matches a LIKE pattern
func (h *HistoryDB) GetEventsByPath(pathPattern string) ([]Event, error) {
	return h.queryEvents(selectEvents+`
	WHERE original LIKE ?
	ORDER BY timestamp DESC
	`, pathPattern)
}

// GetLargestBuries returns the N largest buried items by size
func (h *HistoryDB) GetLargestBuries(limit int) ([]Event, error) {
	return h.queryEvents(selectEvents+`
	WHERE action = 'BURY'
	ORDER BY size DESC
	LIMIT ?
	`, limit)
}

// GetBytesBuried returns total bytes buried in a time range
func (h *HistoryDB) GetBytesBuried(start, end time.Time) (int64, error) {
	var total int64
	err := h.db.QueryRow(`
	SELECT COALESCE(SUM(size), 0)
	FROM events
	WHERE action = 'BURY' AND timestamp BETWEEN ? AND ?
	`, start.UTC(), end.UTC()).Scan(&total)
	return total, err
}

// GetEventCountByAction returns count of events grouped by action
func (h *HistoryDB) GetEventCountByAction(since time.Time) (map[string]int, error) {
	rows, err := h.db.Query(`
	SELECT action, COUNT(*)
	FROM events
	WHERE timestamp >= ?
	GROUP BY action
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		counts[action] = count
	}
	return counts, rows.Err()
}

// HistoryStats holds aggregated statistics
type HistoryStats struct {
	TotalBuried   int
	TotalExhumed  int
	TotalPruned   int
	TotalUnlinked int
	TotalReaped   int
	TotalErrors   int
	BytesBuried   int64
	ByAction      map[string]int
	StartDate     time.Time
	EndDate       time.Time
}

// GetHistoryStats returns statistics for the last days days
func (h *HistoryDB) GetHistoryStats(days int) (*HistoryStats, error) {
	now := time.Now()
	since := now.AddDate(0, 0, -days)

	stats := &HistoryStats{
		StartDate: since,
		EndDate:   now,
	}

	var err error
	stats.ByAction, err = h.GetEventCountByAction(since)
	if err != nil {
		return nil, err
	}
	stats.TotalBuried = stats.ByAction[ActionBury]
	stats.TotalExhumed = stats.ByAction[ActionExhume]
	stats.TotalPruned = stats.ByAction[ActionPrune]
	stats.TotalUnlinked = stats.ByAction[ActionUnlink]
	stats.TotalReaped = stats.ByAction[ActionReap]
	stats.TotalErrors = stats.ByAction[ActionError]

	stats.BytesBuried, err = h.GetBytesBuried(since, now)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetTopBuriedPaths returns the originals buried most often
func (h *HistoryDB) GetTopBuriedPaths(limit int) (map[string]int, error) {
	rows, err := h.db.Query(`
	SELECT original, COUNT(*) as count
	FROM events
	WHERE action = 'BURY'
	GROUP BY original
	ORDER BY count DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		var count int
		if err := rows.Scan(&path, &count); err != nil {
			return nil, err
		}
		counts[path] = count
	}
	return counts, rows.Err()
}

// DeleteOldEvents removes events older than the given number of days
func (h *HistoryDB) DeleteOldEvents(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	result, err := h.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// queryEvents executes a query and scans the resulting events
func (h *HistoryDB) queryEvents(query string, args ...interface{}) ([]Event, error) {
	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var grave, errMsg sql.NullString

		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Action, &e.Original, &grave,
			&e.ObjectType, &e.Size, &e.Graveyard, &errMsg,
		); err != nil {
			return nil, err
		}
		e.Grave = grave.String
		e.ErrorMessage = errMsg.String

		events = append(events, e)
	}
	return events, rows.Err()
}
