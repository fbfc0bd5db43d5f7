// Package server wires edgegate's routing engine, admission control,
// auth gate, and audit subsystem into the single listening process,
// grounded on the teacher's dynamicproxy.go Start/Stop/Restart shape
// and its Shutdown-with-timeout pattern.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.edgegate.dev/edgegate/mod/audit"
	"go.edgegate.dev/edgegate/mod/auth"
	"go.edgegate.dev/edgegate/mod/clock"
	"go.edgegate.dev/edgegate/mod/logger"
	"go.edgegate.dev/edgegate/mod/ratelimit"
	"go.edgegate.dev/edgegate/mod/reload"

	edgeforwarder "go.edgegate.dev/edgegate/mod/forwarder"
)

// Options configures a Server. TLSCertFile/TLSKeyFile must both be set
// or both left empty; a mismatched pair is a startup error, matching
// the Design Notes' explicit exclusion of automatic certificate
// acquisition.
type Options struct {
	ListenAddr    string
	HTTPPort      int
	HTTPSPort     int
	TLSCertFile   string
	TLSKeyFile    string
	ShutdownGrace time.Duration
}

// Server is edgegate's listening process: one request pipeline serving
// both the data plane (routed proxy traffic) and the admin/audit
// control plane, backed by a single hot-reloadable configuration.
type Server struct {
	opts Options

	Reloader     *reload.Reloader
	DataLimiter  *ratelimit.DataPlaneLimiter
	AdminLimiter *ratelimit.AdminLimiter
	Forwarder    *edgeforwarder.Forwarder
	Audit        *audit.Store
	Gate         *auth.Gate
	Tokens       *auth.TokenIssuer
	Keys         *auth.KeyStore
	Clock        clock.Clock
	Logger       *logger.Logger

	startedAt time.Time
	mux       *http.ServeMux
	httpSrv   *http.Server
}

// New builds a Server and its request mux. It does not bind a socket;
// call Start for that. A nil lg falls back to a stdout-only logger, the
// same fallback the teacher's own modules use in tests.
func New(opts Options, r *reload.Reloader, dl *ratelimit.DataPlaneLimiter, al *ratelimit.AdminLimiter, fw *edgeforwarder.Forwarder, store *audit.Store, gate *auth.Gate, tokens *auth.TokenIssuer, keys *auth.KeyStore, clk clock.Clock, lg *logger.Logger) *Server {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	if lg == nil {
		lg, _ = logger.NewFmtLogger()
	}

	s := &Server{
		opts:         opts,
		Reloader:     r,
		DataLimiter:  dl,
		AdminLimiter: al,
		Forwarder:    fw,
		Audit:        store,
		Gate:         gate,
		Tokens:       tokens,
		Keys:         keys,
		Clock:        clk,
		Logger:       lg,
	}

	s.mux = http.NewServeMux()
	s.routes()

	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/auth/keys", s.requireAdmin("keys", s.handleKeys))
	s.mux.HandleFunc("/auth/keys/", s.requireAdmin("keys", s.handleKeyByID))

	s.mux.HandleFunc("/admin/reload", s.requireAdmin("reload", s.handleReload))
	s.mux.HandleFunc("/admin/routes", s.requireAdmin("routes", s.handleListRoutes))
	s.mux.HandleFunc("/admin/config", s.requireAdmin("config", s.handleGetConfig))
	s.mux.HandleFunc("/admin/status", s.requireAdmin("status", s.handleStatus))
	s.mux.HandleFunc("/admin/ratelimit/clear/", s.requireAdmin("ratelimit", s.handleClearRateLimit))
	s.mux.HandleFunc("/admin/ratelimit/stats/", s.requireAdmin("ratelimit", s.handleRateLimitStats))

	s.mux.HandleFunc("/audit/logs", s.requireAdmin("audit", s.handleAuditLogs))
	s.mux.HandleFunc("/audit/stats", s.requireAdmin("audit", s.handleAuditStats))

	s.mux.HandleFunc("/", s.handleDataPlane)
}

// Start binds the listener and begins serving. The socket is bound
// synchronously — a port-in-use or cert-loading failure is returned to
// the caller here rather than only logged — and only request handling
// (Serve) is handed to a background goroutine, adapted from the
// teacher's own TLS-mode branch in StartProxyService (tls.Listen
// followed by a backgrounded server.Serve(ln)), applied to both the
// TLS and plain-HTTP cases instead of just one.
func (s *Server) Start() error {
	if (s.opts.TLSCertFile == "") != (s.opts.TLSKeyFile == "") {
		return errors.New("server: TLS_CERT and TLS_KEY must both be set or both be empty")
	}

	s.startedAt = s.Clock.Now()

	useTLS := s.opts.TLSCertFile != ""
	port := s.opts.HTTPPort
	if useTLS {
		port = s.opts.HTTPSPort
	}
	addr := fmt.Sprintf("%s:%d", s.opts.ListenAddr, port)

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	var ln net.Listener
	var err error
	if useTLS {
		cert, certErr := tls.LoadX509KeyPair(s.opts.TLSCertFile, s.opts.TLSKeyFile)
		if certErr != nil {
			return fmt.Errorf("server: loading TLS cert/key: %w", certErr)
		}
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("server: binding %s: %w", addr, err)
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.PrintAndLog("server", "listener stopped", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the listener, giving in-flight requests
// the configured grace period, then drains and closes the audit
// store.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		shutdownErr = s.httpSrv.Shutdown(ctx)
	}

	s.DataLimiter.Stop()
	s.AdminLimiter.Stop()

	if err := s.Audit.Close(); err != nil {
		if shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

// Handler returns the server's request mux, letting tests drive the
// full route table without binding a socket.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
