// Package ssrf validates candidate upstream URLs before they are allowed
// into a route table, rejecting targets that resolve into loopback,
// link-local, private, multicast or otherwise reserved address space.
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrDisallowedScheme is returned when the candidate URL is not http/https.
var ErrDisallowedScheme = errors.New("ssrf: scheme must be http or https")

// ErrMetadataHost is returned when the hostname matches a configured
// metadata-service hostname.
var ErrMetadataHost = errors.New("ssrf: host is a disallowed metadata hostname")

// ErrDeniedAddress is returned when a resolved address falls in the
// deny-set.
type ErrDeniedAddress struct {
	Host string
	Addr net.IP
}

func (e *ErrDeniedAddress) Error() string {
	return fmt.Sprintf("ssrf: %s resolves to denied address %s", e.Host, e.Addr)
}

// Resolver is the subset of net.Resolver the validator needs, so tests can
// substitute a fixed address table instead of hitting real DNS.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Result carries the addresses a validated URL resolved to. Nothing pins
// the forwarder to them: it connects by hostname and resolves again.
type Result struct {
	Host          string
	ResolvedAddrs []net.IP
}

// Validator checks candidate upstream URLs against a deny-set of address
// ranges and a list of disallowed metadata hostnames.
type Validator struct {
	Resolver         Resolver
	DenyRanges       []*net.IPNet
	MetadataHosts    []string
	AllowLoopback    bool // skips the whole DenyRanges check (not only loopback), for local dev/test deployments
}

// DefaultDenyRanges returns the deny-set spec.md calls out by default:
// loopback, link-local, RFC1918/RFC4193 private space, multicast, and the
// IPv4 "this network"/reserved ranges.
func DefaultDenyRanges() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"192.0.0.0/24",
		"192.0.2.0/24",
		"198.18.0.0/15",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"255.255.255.255/32",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
		"ff00::/8",
	}

	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			// Every entry above is a fixed literal; a parse failure here
			// is a programmer error, not a runtime condition.
			panic("ssrf: invalid built-in CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// New builds a Validator with the default deny-set and system resolver.
func New(metadataHosts []string) *Validator {
	return &Validator{
		Resolver:      net.DefaultResolver,
		DenyRanges:    DefaultDenyRanges(),
		MetadataHosts: metadataHosts,
	}
}

// Validate resolves rawURL's host and rejects it per the rules above. On
// success it returns the resolved address set.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrDisallowedScheme
	}

	host := u.Hostname()
	for _, blocked := range v.MetadataHosts {
		if strings.EqualFold(host, blocked) {
			return nil, ErrMetadataHost
		}
	}

	addrs, err := v.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("ssrf: could not resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("ssrf: %s did not resolve to any address", host)
	}

	resolved := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if !v.AllowLoopback && v.denied(a.IP) {
			return nil, &ErrDeniedAddress{Host: host, Addr: a.IP}
		}
		resolved = append(resolved, a.IP)
	}

	return &Result{Host: host, ResolvedAddrs: resolved}, nil
}

func (v *Validator) denied(ip net.IP) bool {
	for _, n := range v.DenyRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
