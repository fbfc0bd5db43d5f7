package server

import (
	"net/http"

	"go.edgegate.dev/edgegate/mod/forwarder"
	"go.edgegate.dev/edgegate/mod/netutils"
)

// handleDataPlane implements the request pipeline spec.md §4.15
// describes: admission -> size guard -> route match -> forward ->
// record. It carries no auth step, matching the "any other path: any,
// none (data plane)" row of the HTTP surface table.
func (s *Server) handleDataPlane(w http.ResponseWriter, r *http.Request) {
	start := s.Clock.Now()
	live := s.Reloader.Current()
	clientIP := netutils.GetRequesterIP(r, live.Policy.TrustedProxies)

	sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	if !s.DataLimiter.Admit(clientIP, start) {
		sr.WriteHeader(http.StatusTooManyRequests)
		s.recordRequest(r, clientIP, sr.status, start)
		return
	}

	if forwarder.CheckContentLength(r.ContentLength, live.Policy.MaxBodyBytes) {
		sr.WriteHeader(http.StatusRequestEntityTooLarge)
		s.recordRequest(r, clientIP, sr.status, start)
		return
	}

	route, err := live.Snapshot.Match(r.URL.Path)
	if err != nil {
		sr.WriteHeader(http.StatusNotFound)
		s.recordRequest(r, clientIP, sr.status, start)
		return
	}

	if ferr := s.Forwarder.Forward(sr, r, route, clientIP, live.Policy.MaxBodyBytes); ferr != nil {
		status := statusForForwardError(ferr)
		if sr.status == http.StatusOK {
			sr.WriteHeader(status)
		}
	}

	s.recordRequest(r, clientIP, sr.status, start)
}

func statusForForwardError(err *forwarder.Error) int {
	switch err.Kind {
	case forwarder.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case forwarder.KindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case forwarder.KindClientCancelled:
		return 499
	default:
		return http.StatusBadGateway
	}
}
