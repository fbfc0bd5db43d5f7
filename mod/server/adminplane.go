package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"

	"go.edgegate.dev/edgegate/mod/netutils"
)

// handleReload implements the reload operation of spec.md §4.11: read
// the posted document, validate, and on success atomically swap the
// live snapshot. Every attempt, successful or not, is recorded as an
// admin event.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	clientIP := netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies)

	err := s.Reloader.Reload(r.Context(), r.Body)
	if err != nil {
		s.recordAdmin(r, clientIP, "reload", "outcome=rejected reason="+err.Error())
		writeError(w, http.StatusInternalServerError, "config rejected")
		return
	}

	s.recordAdmin(r, clientIP, "reload", "outcome=applied")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// handleListRoutes returns the live snapshot's routes.
func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	live := s.Reloader.Current()

	type routeView struct {
		ID         string `json:"id"`
		PathPrefix string `json:"path_prefix"`
		Upstream   string `json:"upstream"`
		StripPath  bool   `json:"strip_path"`
	}

	routes := live.Snapshot.Routes()
	out := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeView{
			ID:         rt.ID,
			PathPrefix: rt.PathPrefix,
			Upstream:   rt.UpstreamBase.String(),
			StripPath:  rt.StripPath,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"routes": out})
}

// handleGetConfig returns the live snapshot's full policy.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Reloader.Current().Policy)
}

// handleStatus returns uptime, route count, the audit store's
// dropped-event counter, and host memory usage, per spec.md §4.11.
// Memory reporting is best-effort: a gopsutil failure omits the field
// rather than failing the whole status response.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	live := s.Reloader.Current()

	out := map[string]interface{}{
		"uptime_seconds": int64(s.Clock.Now().Sub(s.startedAt).Seconds()),
		"route_count":    live.Snapshot.Len(),
		"reload_state":   string(s.Reloader.State()),
		"dropped_events": s.Audit.Dropped(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		out["memory_used_bytes"] = vm.Used
		out["memory_total_bytes"] = vm.Total
		out["memory_used_percent"] = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, out)
}

// handleClearRateLimit removes ip's entry from the data-plane limiter.
func (s *Server) handleClearRateLimit(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipFromPath(w, r, "/admin/ratelimit/clear/")
	if !ok {
		return
	}
	s.DataLimiter.Clear(ip)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleRateLimitStats returns the current window count and oldest
// timestamp for ip.
func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipFromPath(w, r, "/admin/ratelimit/stats/")
	if !ok {
		return
	}

	count, oldest, found := s.DataLimiter.Stats(ip, s.Clock.Now())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ip":     ip,
		"count":  count,
		"oldest": oldest,
		"found":  found,
	})
}

func ipFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if net.ParseIP(raw) == nil {
		writeError(w, http.StatusBadRequest, "invalid ip literal")
		return "", false
	}
	return raw, true
}
