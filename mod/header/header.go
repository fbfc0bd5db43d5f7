// Package header sanitises requests and responses passing through the
// forwarder: hop-by-hop headers are stripped in both directions, and the
// client-attributed identity headers are always set from
// server-observed values, never trusted from the client.
package header

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HopByHop lists headers meaningful only on a single connection segment.
var HopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(h http.Header) {
	if c := h.Get("Connection"); c != "" {
		for _, f := range strings.Split(c, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, name := range HopByHop {
		h.Del(name)
	}
}

// SanitiseRequest strips hop-by-hop and client-supplied forwarding headers,
// then sets the forwarding headers from server-observed values. clientIP is
// the address the request has already been attributed to (see
// mod/netutils.GetRequesterIP), so it can't be re-spoofed here.
func SanitiseRequest(req *http.Request, clientIP string, appendForwardedFor bool) {
	prior := req.Header.Get("X-Forwarded-For")

	stripHopByHop(req.Header)
	req.Header.Del("X-Forwarded-For")
	req.Header.Del("X-Forwarded-Proto")
	req.Header.Del("X-Forwarded-Host")
	req.Header.Del("X-Real-Ip")

	forwardedFor := clientIP
	if appendForwardedFor && prior != "" {
		forwardedFor = prior + ", " + clientIP
	}
	req.Header.Set("X-Forwarded-For", forwardedFor)

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	req.Header.Set("X-Forwarded-Proto", scheme)
	req.Header.Set("X-Forwarded-Host", req.Host)
	req.Header.Set("X-Real-Ip", clientIP)
}

// SanitiseResponse strips hop-by-hop headers from an upstream response and
// records the measured proxying duration.
func SanitiseResponse(h http.Header, elapsed time.Duration) {
	stripHopByHop(h)
	h.Set("X-Process-Time-Ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
}
