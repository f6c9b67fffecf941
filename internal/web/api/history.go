package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"rip-sage/internal/database"
	"rip-sage/internal/web/websocket"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
	defaultDays     = 30
)

// HistoryResponse is one page of history, newest first.
type HistoryResponse struct {
	Events     []websocket.EventMessage `json:"events"`
	TotalCount int                      `json:"total_count"`
	PageSize   int                      `json:"page_size"`
	Page       int                      `json:"page"`
	HasMore    bool                     `json:"has_more"`
}

// StatsResponse summarizes the history over a number of days.
type StatsResponse struct {
	Days        int            `json:"days"`
	StartDate   time.Time      `json:"start_date"`
	EndDate     time.Time      `json:"end_date"`
	Buried      int            `json:"buried"`
	Exhumed     int            `json:"exhumed"`
	Pruned      int            `json:"pruned"`
	Unlinked    int            `json:"unlinked"`
	Reaped      int            `json:"reaped"`
	Errors      int            `json:"errors"`
	BytesBuried int64          `json:"bytes_buried"`
	ByAction    map[string]int `json:"by_action"`
}

// intParam parses a positive integer query parameter, falling back to def
// when it is absent.
func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// HistoryHandler pages through the history. ?action= filters by action
// and ?path= by original path (SQL LIKE syntax); both may be combined.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, "no history database configured", http.StatusServiceUnavailable)
		return
	}

	pageSize, ok := intParam(r, "limit", defaultPageSize)
	if !ok {
		respondError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	pageSize = min(pageSize, maxPageSize)
	page, ok := intParam(r, "page", 1)
	if !ok {
		respondError(w, "page must be a positive integer", http.StatusBadRequest)
		return
	}
	offset := (page - 1) * pageSize

	action := strings.ToUpper(r.URL.Query().Get("action"))
	pathPattern := r.URL.Query().Get("path")

	var (
		events []database.Event
		total  int
		err    error
	)
	switch {
	case action == "" && pathPattern == "":
		events, total, err = s.history.GetRecentEventsPaginated(pageSize, offset)
	case action != "":
		events, err = s.history.GetEventsByAction(action)
		if err == nil && pathPattern != "" {
			events, err = intersect(events, s.history, pathPattern)
		}
	default:
		events, err = s.history.GetEventsByPath(pathPattern)
	}
	if err != nil {
		s.log.Error("query history", "error", err)
		respondError(w, "failed to query history", http.StatusInternalServerError)
		return
	}
	if action != "" || pathPattern != "" {
		total = len(events)
		events = events[min(offset, total):min(offset+pageSize, total)]
	}

	resp := HistoryResponse{
		Events:     make([]websocket.EventMessage, 0, len(events)),
		TotalCount: total,
		PageSize:   pageSize,
		Page:       page,
		HasMore:    offset+len(events) < total,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, websocket.NewEventMessage(e))
	}
	respondJSON(w, resp, http.StatusOK)
}

// intersect keeps the events that also match pathPattern.
func intersect(events []database.Event, h History, pathPattern string) ([]database.Event, error) {
	byPath, err := h.GetEventsByPath(pathPattern)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(byPath))
	for _, e := range byPath {
		keep[e.ID] = true
	}
	out := events[:0]
	for _, e := range events {
		if keep[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// HistoryStatsHandler returns counts per action over ?days= (default 30).
func (s *Server) HistoryStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, "no history database configured", http.StatusServiceUnavailable)
		return
	}
	days, ok := intParam(r, "days", defaultDays)
	if !ok {
		respondError(w, "days must be a positive integer", http.StatusBadRequest)
		return
	}

	stats, err := s.history.GetHistoryStats(days)
	if err != nil {
		s.log.Error("history statistics", "error", err)
		respondError(w, "failed to compute statistics", http.StatusInternalServerError)
		return
	}
	respondJSON(w, StatsResponse{
		Days:        days,
		StartDate:   stats.StartDate,
		EndDate:     stats.EndDate,
		Buried:      stats.TotalBuried,
		Exhumed:     stats.TotalExhumed,
		Pruned:      stats.TotalPruned,
		Unlinked:    stats.TotalUnlinked,
		Reaped:      stats.TotalReaped,
		Errors:      stats.TotalErrors,
		BytesBuried: stats.BytesBuried,
		ByAction:    stats.ByAction,
	}, http.StatusOK)
}
