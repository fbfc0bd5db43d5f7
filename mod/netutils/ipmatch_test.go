package netutils_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.edgegate.dev/edgegate/mod/netutils"
)

func TestGetRequesterIP(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(r *http.Request)
		trustedProxies []string
		expected       string
	}{
		{
			name:     "falls back to RemoteAddr with no trusted proxies configured",
			setup:    func(r *http.Request) { r.RemoteAddr = "203.0.113.9:5555" },
			expected: "203.0.113.9",
		},
		{
			name: "X-Real-Ip from an untrusted peer is ignored",
			setup: func(r *http.Request) {
				r.RemoteAddr = "203.0.113.9:5555"
				r.Header.Set("X-Real-Ip", "198.51.100.4")
			},
			expected: "203.0.113.9",
		},
		{
			name: "X-Forwarded-For from an untrusted peer is ignored",
			setup: func(r *http.Request) {
				r.RemoteAddr = "203.0.113.9:5555"
				r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
			},
			expected: "203.0.113.9",
		},
		{
			name: "X-Real-Ip is honoured once the peer is a trusted proxy",
			setup: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.1:5555"
				r.Header.Set("X-Real-Ip", "198.51.100.4")
			},
			trustedProxies: []string{"10.0.0.0/8"},
			expected:       "198.51.100.4",
		},
		{
			name: "X-Forwarded-For with multiple hops keeps the first, once trusted",
			setup: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.1:5555"
				r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
			},
			trustedProxies: []string{"10.0.0.1"},
			expected:       "198.51.100.4",
		},
		{
			name: "bracketed IPv6 with port is unwrapped",
			setup: func(r *http.Request) {
				r.RemoteAddr = "[2001:db8::1]:5555"
			},
			expected: "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.expected, netutils.GetRequesterIP(r, tt.trustedProxies))
		})
	}
}

func TestMatchIPCIDR(t *testing.T) {
	assert.True(t, netutils.MatchIPCIDR("10.1.2.3", "10.0.0.0/8"))
	assert.False(t, netutils.MatchIPCIDR("11.1.2.3", "10.0.0.0/8"))
	assert.False(t, netutils.MatchIPCIDR("not-an-ip", "10.0.0.0/8"))
	assert.True(t, netutils.MatchIPCIDR("fe80::1%eth0", "fe80::/10"))
}
