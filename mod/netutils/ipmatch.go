// Package netutils holds the small IP-address helpers mod/server uses to
// attribute a request to a client: extracting the real client IP from a
// request, and matching addresses against CIDRs.
package netutils

import (
	"net"
	"net/http"
	"strings"
)

// stripPort normalises a RemoteAddr/header value like "1.2.3.4:5678" or
// "[::1]:5678" down to the bare address.
func stripPort(raw string) string {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	return strings.TrimPrefix(strings.TrimSuffix(raw, "]"), "[")
}

// isTrustedProxy reports whether remoteIP matches one of the configured
// trusted-proxy entries, each either a bare IP or a CIDR.
func isTrustedProxy(remoteIP string, trustedProxies []string) bool {
	for _, entry := range trustedProxies {
		if strings.Contains(entry, "/") {
			if MatchIPCIDR(remoteIP, entry) {
				return true
			}
			continue
		}
		if remoteIP == entry {
			return true
		}
	}
	return false
}

// GetRequesterIP resolves the IP a request should be attributed to for
// admission and audit purposes. The TCP peer address (RemoteAddr) is
// authoritative by default, since any inbound X-Real-Ip/X-Forwarded-For/
// CF-Connecting-IP/Fastly-Client-IP header is fully attacker-controlled
// unless it was set by a proxy edgegate itself trusts. Forwarding headers
// are only consulted when the direct peer's address matches an entry in
// trustedProxies (CIDRs or bare IPs, from policy.trusted_proxies); with an
// empty trustedProxies, RemoteAddr always wins.
func GetRequesterIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)

	if !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}

	ip := r.Header.Get("X-Real-Ip")
	if ip == "" {
		cfConnectingIP := r.Header.Get("CF-Connecting-IP")
		fastlyClientIP := r.Header.Get("Fastly-Client-IP")
		if cfConnectingIP != "" {
			return stripPort(cfConnectingIP)
		} else if fastlyClientIP != "" {
			return stripPort(fastlyClientIP)
		}
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip == "" {
		return remoteIP
	}

	/*
		Possible values that reach this point:
		158.250.160.114,109.21.249.211
		[15c4:cbb4:cc98:4291:ffc1:3a46:06a1:51a7],109.21.249.211

		Extract just the first IP address (the leftmost entry, the
		original client as reported by the proxy chain).
	*/
	requesterRawIP := ip
	if strings.Contains(requesterRawIP, ",") {
		requesterRawIP = strings.Split(requesterRawIP, ",")[0]
	}

	return stripPort(requesterRawIP)
}

// MatchIPCIDR reports whether ip falls within cidr. Scope IDs on link-local
// IPv6 addresses (fe80::1%eth0) are trimmed before parsing.
func MatchIPCIDR(ip string, cidr string) bool {
	if i := strings.Index(ip, "%"); i != -1 {
		ip = ip[:i]
	}

	_, cidrnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}

	ipAddr := net.ParseIP(ip)
	if ipAddr == nil {
		return false
	}

	return cidrnet.Contains(ipAddr)
}
