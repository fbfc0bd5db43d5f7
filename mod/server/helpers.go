package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.edgegate.dev/edgegate/mod/netutils"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// requireAdmin wraps h with the §4.14 auth gate and §4.5 admin rate
// limiting keyed by caller IP and op. A failed auth attempt still
// counts against the caller's admin rate-limit budget for op.
func (s *Server) requireAdmin(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies)

		if ok, blockedFor := s.AdminLimiter.Check(ip, op, s.Clock.Now()); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(blockedFor/time.Second)))
			writeError(w, http.StatusTooManyRequests, "too many attempts")
			return
		}

		outcome := s.Gate.Check(r)
		if !outcome.Allowed {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		h(w, r)
	}
}
