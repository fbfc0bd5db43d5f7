package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.edgegate.dev/edgegate/mod/audit"
)

// handleAuditLogs implements the logs operation of spec.md §4.12:
// limit clamped to [1,1000], optional kind/client_ip/time-range
// filters, newest first.
func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 1000
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	var filters audit.Filters

	if raw := q.Get("kind"); raw != "" {
		if raw != string(audit.KindRequest) && raw != string(audit.KindAdmin) {
			writeError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		filters.Kind = audit.Kind(raw)
	}

	if raw := q.Get("client_ip"); raw != "" {
		if net.ParseIP(raw) == nil {
			writeError(w, http.StatusBadRequest, "invalid client_ip")
			return
		}
		filters.ClientIP = raw
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		filters.Since = since
	}
	if raw := q.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until")
			return
		}
		filters.Until = until
	}

	events, err := s.Audit.Query(filters, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handleAuditStats implements the stats operation of spec.md §4.12,
// defaulting to the last 24 hours.
func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window_seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window_seconds")
			return
		}
		window = time.Duration(n) * time.Second
	}

	stats, err := s.Audit.Stats(window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
