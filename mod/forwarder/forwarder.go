// Package forwarder streams an admitted request to the upstream named by
// its matched route and streams the response back, built on top of the
// dpcore reverse-proxy core adapted from the teacher's dynamic proxy
// engine.
package forwarder

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.edgegate.dev/edgegate/mod/forwarder/dpcore"
	"go.edgegate.dev/edgegate/mod/header"
	"go.edgegate.dev/edgegate/mod/routetable"
)

// Kind classifies how a forward attempt failed, for status-code mapping
// and audit recording.
type Kind int

const (
	KindNone Kind = iota
	KindUpstreamConnect
	KindUpstreamTimeout
	KindClientCancelled
	KindBodyTooLarge
)

// Error wraps a forwarding failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Options configures a Forwarder. Zero values fall back to spec.md §6's
// defaults.
type Options struct {
	Timeout               time.Duration
	ConnectTimeout        time.Duration
	MaxRedirects          int
	MaxConcurrentPerHost  int
	IgnoreTLSVerification bool
	AppendForwardedFor    bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.MaxConcurrentPerHost <= 0 {
		o.MaxConcurrentPerHost = 200
	}
	return o
}

// Forwarder forwards admitted requests to their matched route's upstream.
type Forwarder struct {
	opts Options
	pool *hostSemaphore

	mu    sync.RWMutex
	cores map[string]*dpcore.ReverseProxy // keyed by upstream scheme://host
}

// New builds a Forwarder. opts is normalised with spec.md defaults.
func New(opts Options) *Forwarder {
	opts = opts.withDefaults()
	return &Forwarder{
		opts:  opts,
		pool:  newHostSemaphore(opts.MaxConcurrentPerHost),
		cores: make(map[string]*dpcore.ReverseProxy),
	}
}

func (f *Forwarder) coreFor(target *url.URL) *dpcore.ReverseProxy {
	key := target.Scheme + "://" + target.Host

	f.mu.RLock()
	core, ok := f.cores[key]
	f.mu.RUnlock()
	if ok {
		return core
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if core, ok = f.cores[key]; ok {
		return core
	}

	core = dpcore.NewDynamicProxyCore(target, "", &dpcore.DpcoreOptions{
		IgnoreTLSVerification: f.opts.IgnoreTLSVerification,
		MaxConnsPerHost:       f.opts.MaxConcurrentPerHost,
	})
	core.Timeout = f.opts.Timeout
	f.cores[key] = core
	return core
}

// Forward streams req to route's upstream and writes the response to w.
// clientIP is the already-resolved client address (see mod/netutils).
// maxBodyBytes bounds the request body as it is streamed; pass 0 to
// disable the guard (CheckContentLength should already have rejected
// any request whose declared length exceeds the cap).
func (f *Forwarder) Forward(w http.ResponseWriter, req *http.Request, route *routetable.Route, clientIP string, maxBodyBytes int64) *Error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(req.Context(), f.opts.Timeout)
	defer cancel()
	req = req.WithContext(ctx)

	if maxBodyBytes > 0 && req.Body != nil {
		req.Body = LimitBody(req.Body, maxBodyBytes)
	}

	release, err := f.pool.acquire(ctx, route.UpstreamBase.Host)
	if err != nil {
		return &Error{Kind: KindUpstreamTimeout, Err: err}
	}
	defer release()

	if route.StripPath && route.PathPrefix != "/" {
		trimmed := strings.TrimPrefix(req.URL.Path, route.PathPrefix)
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		req.URL.Path = trimmed
	}

	header.SanitiseRequest(req, clientIP, f.opts.AppendForwardedFor)

	core := f.coreFor(route.UpstreamBase)
	rrr := &dpcore.ResponseRewriteRuleSet{
		ProxyDomain:  route.UpstreamBase.Host,
		OriginalHost: req.Host,
		UseTLS:       route.UpstreamBase.Scheme == "https",
		PathPrefix:   route.PathPrefix,
		StartTime:    start,
	}

	proxyErr := core.ServeHTTP(w, req, rrr)
	if proxyErr == nil {
		return nil
	}

	return &Error{Kind: classify(proxyErr), Err: proxyErr}
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindClientCancelled
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return KindBodyTooLarge
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUpstreamConnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUpstreamTimeout
	}
	return KindUpstreamConnect
}
