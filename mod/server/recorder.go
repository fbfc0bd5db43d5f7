package server

import (
	"net/http"
	"time"

	"go.edgegate.dev/edgegate/mod/audit"
)

// statusRecorder captures the status code a response was written with,
// so the recorder can log it without the forwarder itself needing to
// know about auditing.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// recordRequest appends a RequestEvent to the audit store. Append
// itself never blocks; a full write queue only increments a dropped
// counter, per spec.md §4.9.
func (s *Server) recordRequest(r *http.Request, clientIP string, status int, start time.Time) {
	s.Audit.Append(audit.Event{
		Kind:       audit.KindRequest,
		ClientIP:   clientIP,
		UserAgent:  r.UserAgent(),
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     status,
		DurationMs: s.Clock.Now().Sub(start).Milliseconds(),
	})
}

// recordAdmin appends an AdminEvent to the audit store.
func (s *Server) recordAdmin(r *http.Request, clientIP, action, details string) {
	s.Audit.Append(audit.Event{
		Kind:        audit.KindAdmin,
		ClientIP:    clientIP,
		UserAgent:   r.UserAgent(),
		ActionName:  action,
		DetailsBlob: details,
	})
}
