// Package config loads and validates edgegate's YAML configuration
// document (spec.md §6) and compiles it into an installable route
// snapshot plus policy value, grounded on the pack's yaml.v3 usage for
// document parsing.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go.edgegate.dev/edgegate/mod/clock"
	"go.edgegate.dev/edgegate/mod/routetable"
	"go.edgegate.dev/edgegate/mod/ssrf"
	"go.edgegate.dev/edgegate/mod/utils"
)

// validHTTPMethods is the set of verbs the cors.methods: list is checked
// against; anything else is rejected at load time rather than silently
// never matching a preflight request.
var validHTTPMethods = []string{
	"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "CONNECT", "TRACE",
}

// RouteDoc is one entry of the routes: list.
type RouteDoc struct {
	Path      string `yaml:"path"`
	Target    string `yaml:"target"`
	StripPath bool   `yaml:"strip_path"`
}

// CORSDoc is the cors: section.
type CORSDoc struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Credentials    bool     `yaml:"credentials"`
	Methods        []string `yaml:"methods"`
	Headers        []string `yaml:"headers"`
}

// ForwarderDoc is the forwarder: section.
type ForwarderDoc struct {
	TimeoutSeconds        int `yaml:"timeout_seconds"`
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	MaxRedirects          int `yaml:"max_redirects"`
	MaxConcurrentPerHost  int `yaml:"max_concurrent_per_host"`
}

// RateLimitDoc is the rate_limit: section.
type RateLimitDoc struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// BodySizeDoc is the body_size: section. MaxSize accepts a human-readable
// alternative to MaxBytes, e.g. "10mb"; when both are set MaxSize wins.
type BodySizeDoc struct {
	MaxBytes int64  `yaml:"max_bytes"`
	MaxSize  string `yaml:"max_size"`
}

// AdminRateLimitDoc is the admin_rate_limit: section.
type AdminRateLimitDoc struct {
	AttemptsPerWindow int `yaml:"attempts_per_window"`
	WindowSeconds     int `yaml:"window_seconds"`
	BlockSeconds      int `yaml:"block_seconds"`
}

// Document is the parsed, defaulted, and validated configuration
// document. It is safe to compile into a snapshot via Compile.
type Document struct {
	Routes         []RouteDoc        `yaml:"routes"`
	RateLimit      RateLimitDoc      `yaml:"rate_limit"`
	BodySize       BodySizeDoc       `yaml:"body_size"`
	CORS           CORSDoc           `yaml:"cors"`
	AdminRateLimit AdminRateLimitDoc `yaml:"admin_rate_limit"`
	Forwarder      ForwarderDoc      `yaml:"forwarder"`

	// TrustedProxies lists the CIDRs/IPs of the load balancers or
	// reverse proxies edgegate itself sits behind. A direct TCP peer
	// outside this list can never have its X-Forwarded-For/X-Real-Ip
	// headers honoured for client attribution; an empty list means no
	// peer is trusted and RemoteAddr always wins.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Policy is the compiled, non-route half of a Document: the values the
// runtime pipeline consults on every request without re-parsing YAML.
type Policy struct {
	RequestsPerMinute int

	AdminAttemptsPerWindow int
	AdminWindow            time.Duration
	AdminBlock             time.Duration

	MaxBodyBytes int64

	CORS CORSDoc

	ForwarderTimeout        time.Duration
	ForwarderConnectTimeout time.Duration
	MaxRedirects            int
	MaxConcurrentPerHost    int

	TrustedProxies []string
}

var (
	ErrDuplicatePrefix      = errors.New("config: duplicate route path prefix")
	ErrInvalidPrefix        = errors.New("config: route path must start with /")
	ErrCredentialedWildcard = errors.New("config: cors credentials=true is incompatible with allowed_origins=[\"*\"]")
)

// Load decodes and validates a configuration document from r. A
// validation failure returns a non-nil error and a nil Document; the
// caller must not install a partially-validated document.
func Load(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if doc.BodySize.MaxSize != "" {
		bytes, err := utils.SizeStringToBytes(doc.BodySize.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("config: body_size.max_size: %w", err)
		}
		doc.BodySize.MaxBytes = bytes
	}

	doc.applyDefaults()

	if err := doc.validate(); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (d *Document) applyDefaults() {
	if d.RateLimit.RequestsPerMinute <= 0 {
		d.RateLimit.RequestsPerMinute = 100
	}
	if d.BodySize.MaxBytes <= 0 {
		d.BodySize.MaxBytes = 10 * 1024 * 1024
	}
	if d.AdminRateLimit.AttemptsPerWindow <= 0 {
		d.AdminRateLimit.AttemptsPerWindow = 5
	}
	if d.AdminRateLimit.WindowSeconds <= 0 {
		d.AdminRateLimit.WindowSeconds = 300
	}
	if d.AdminRateLimit.BlockSeconds <= 0 {
		d.AdminRateLimit.BlockSeconds = 600
	}
	if d.Forwarder.TimeoutSeconds <= 0 {
		d.Forwarder.TimeoutSeconds = 30
	}
	if d.Forwarder.ConnectTimeoutSeconds <= 0 {
		d.Forwarder.ConnectTimeoutSeconds = 5
	}
	if d.Forwarder.MaxRedirects <= 0 {
		d.Forwarder.MaxRedirects = 5
	}
	if d.Forwarder.MaxConcurrentPerHost <= 0 {
		d.Forwarder.MaxConcurrentPerHost = 200
	}
}

func (d *Document) validate() error {
	seen := make(map[string]bool, len(d.Routes))
	for _, rt := range d.Routes {
		if len(rt.Path) == 0 || rt.Path[0] != '/' {
			return fmt.Errorf("%w: %q", ErrInvalidPrefix, rt.Path)
		}
		if seen[rt.Path] {
			return fmt.Errorf("%w: %q", ErrDuplicatePrefix, rt.Path)
		}
		seen[rt.Path] = true

		u, err := url.Parse(rt.Target)
		if err != nil {
			return fmt.Errorf("config: route %q: invalid target: %w", rt.Path, err)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("config: route %q: target must not carry a query or fragment: %q", rt.Path, rt.Target)
		}
	}

	if len(d.CORS.AllowedOrigins) == 1 && d.CORS.AllowedOrigins[0] == "*" && d.CORS.Credentials {
		return ErrCredentialedWildcard
	}

	for _, m := range d.CORS.Methods {
		if !utils.StringInArrayIgnoreCase(validHTTPMethods, m) {
			return fmt.Errorf("config: cors.methods: unknown HTTP method %q", m)
		}
	}

	for _, entry := range d.TrustedProxies {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("config: trusted_proxies: invalid CIDR %q: %w", entry, err)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("config: trusted_proxies: invalid IP %q", entry)
		}
	}

	return nil
}

// ValidateRoutesAgainstSSRF resolves and checks every route's target
// against v, rejecting the whole document if any target denies. This
// is kept separate from validate() because DNS resolution is a
// blocking, context-bound operation, unlike the document's other
// purely structural checks.
func ValidateRoutesAgainstSSRF(ctx context.Context, d *Document, v *ssrf.Validator) error {
	for _, rt := range d.Routes {
		if _, err := v.Validate(ctx, rt.Target); err != nil {
			return fmt.Errorf("config: route %q: %w", rt.Path, err)
		}
	}
	return nil
}

// Compile turns a validated Document into an installable route
// snapshot and its accompanying policy.
func Compile(d *Document, _ clock.Clock) (*routetable.Snapshot, Policy, error) {
	routes := make([]*routetable.Route, 0, len(d.Routes))
	for _, rt := range d.Routes {
		target, err := url.Parse(rt.Target)
		if err != nil {
			return nil, Policy{}, fmt.Errorf("config: route %q: invalid target: %w", rt.Path, err)
		}
		routes = append(routes, &routetable.Route{
			ID:           rt.Path,
			PathPrefix:   rt.Path,
			UpstreamBase: target,
			StripPath:    rt.StripPath,
		})
	}

	snap, err := routetable.From(routes)
	if err != nil {
		return nil, Policy{}, err
	}

	policy := Policy{
		RequestsPerMinute:       d.RateLimit.RequestsPerMinute,
		AdminAttemptsPerWindow:  d.AdminRateLimit.AttemptsPerWindow,
		AdminWindow:             time.Duration(d.AdminRateLimit.WindowSeconds) * time.Second,
		AdminBlock:              time.Duration(d.AdminRateLimit.BlockSeconds) * time.Second,
		MaxBodyBytes:            d.BodySize.MaxBytes,
		CORS:                    d.CORS,
		ForwarderTimeout:        time.Duration(d.Forwarder.TimeoutSeconds) * time.Second,
		ForwarderConnectTimeout: time.Duration(d.Forwarder.ConnectTimeoutSeconds) * time.Second,
		MaxRedirects:            d.Forwarder.MaxRedirects,
		MaxConcurrentPerHost:    d.Forwarder.MaxConcurrentPerHost,
		TrustedProxies:          d.TrustedProxies,
	}

	return snap, policy, nil
}
