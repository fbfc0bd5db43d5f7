// Command edgegate runs the reverse proxy: it loads a configuration
// document, wires the routing engine, admission control, auth gate,
// and audit subsystem into a single listening process, and serves
// until a termination signal is received.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.edgegate.dev/edgegate/mod/audit"
	"go.edgegate.dev/edgegate/mod/auth"
	"go.edgegate.dev/edgegate/mod/clock"
	"go.edgegate.dev/edgegate/mod/config"
	"go.edgegate.dev/edgegate/mod/forwarder"
	"go.edgegate.dev/edgegate/mod/logger"
	"go.edgegate.dev/edgegate/mod/ratelimit"
	"go.edgegate.dev/edgegate/mod/reload"
	"go.edgegate.dev/edgegate/mod/server"
	"go.edgegate.dev/edgegate/mod/ssrf"
	"go.edgegate.dev/edgegate/mod/utils"
)

const (
	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

var (
	configPath    = flag.String("config", "./config.yaml", "Path to the routing/policy configuration document")
	listenAddr    = flag.String("addr", "", "Interface to bind (empty binds all interfaces)")
	httpPort      = flag.Int("http", 8080, "Plain-HTTP listening port")
	httpsPort     = flag.Int("https", 8443, "TLS listening port, used only when -tlscert/-tlskey are set")
	tlsCertFile   = flag.String("tlscert", "", "TLS certificate file")
	tlsKeyFile    = flag.String("tlskey", "", "TLS private key file")
	auditDBPath   = flag.String("auditdb", "./audit.db", "Audit log database path")
	keysDBPath    = flag.String("keysdb", "./keys.db", "API key store database path")
	shutdownGrace = flag.Int("shutdowngrace", 30, "Graceful shutdown timeout (seconds)")
	metadataHosts = flag.String("metadatahosts", "169.254.169.254,metadata.google.internal", "Comma-separated cloud metadata hostnames denied by the SSRF validator")
	logFolder     = flag.String("logfolder", "./log", "Folder to store rolling log files")
)

// setupCloseHandler stops srv on SIGINT/SIGTERM, giving in-flight
// requests the configured grace period before the process exits.
func setupCloseHandler(srv *server.Server, lg *logger.Logger) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		lg.Println("edgegate: shutdown signal received")
		if err := srv.Stop(); err != nil {
			lg.PrintAndLog("edgegate", "shutdown error", err)
		}
		lg.Close()
		os.Exit(0)
	}()
}

func main() {
	flag.Parse()

	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	signingKey := os.Getenv("TOKEN_SIGNING_KEY")
	if adminUsername == "" || adminPassword == "" || signingKey == "" {
		log.Fatal("edgegate: ADMIN_USERNAME, ADMIN_PASSWORD, and TOKEN_SIGNING_KEY must all be set")
	}

	if !utils.FileExists(*configPath) {
		log.Fatalf("edgegate: config file does not exist: %s", *configPath)
	}

	f, err := os.Open(*configPath)
	if err != nil {
		log.Fatalf("edgegate: cannot open config %s: %v", *configPath, err)
	}
	doc, err := config.Load(f)
	f.Close()
	if err != nil {
		log.Fatalf("edgegate: invalid config: %v", err)
	}

	validator := ssrf.New(splitHosts(*metadataHosts))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := config.ValidateRoutesAgainstSSRF(ctx, doc, validator); err != nil {
		cancel()
		log.Fatalf("edgegate: config rejected by SSRF policy: %v", err)
	}
	cancel()

	clk := clock.New()

	snapshot, policy, err := config.Compile(doc, clk)
	if err != nil {
		log.Fatalf("edgegate: cannot compile config: %v", err)
	}

	reloader := reload.New(&reload.LiveConfig{Snapshot: snapshot, Policy: policy}, validator, clk)

	dataLimiter := ratelimit.NewDataPlaneLimiter(policy.RequestsPerMinute, time.Minute)
	adminLimiter := ratelimit.NewAdminLimiter(policy.AdminAttemptsPerWindow, policy.AdminWindow, policy.AdminBlock)

	fw := forwarder.New(forwarder.Options{
		Timeout:              policy.ForwarderTimeout,
		ConnectTimeout:       policy.ForwarderConnectTimeout,
		MaxRedirects:         policy.MaxRedirects,
		MaxConcurrentPerHost: policy.MaxConcurrentPerHost,
	})

	store, err := audit.Open(*auditDBPath, clk)
	if err != nil {
		log.Fatalf("edgegate: cannot open audit database: %v", err)
	}

	passwordHash, err := auth.HashPassword(adminPassword)
	if err != nil {
		log.Fatalf("edgegate: cannot hash admin password: %v", err)
	}
	secret := auth.SharedSecret{Username: adminUsername, PasswordHash: passwordHash}

	tokens := auth.NewTokenIssuer([]byte(signingKey), accessTokenTTL, refreshTokenTTL, clk)

	keys, err := auth.OpenKeyStore(*keysDBPath, clk)
	if err != nil {
		log.Fatalf("edgegate: cannot open key store: %v", err)
	}

	gate := auth.NewGate(secret, tokens, keys)

	lg, err := logger.NewLogger("edgegate", *logFolder)
	if err != nil {
		log.Fatalf("edgegate: cannot open log folder %s: %v", *logFolder, err)
	}

	srv := server.New(server.Options{
		ListenAddr:    *listenAddr,
		HTTPPort:      *httpPort,
		HTTPSPort:     *httpsPort,
		TLSCertFile:   *tlsCertFile,
		TLSKeyFile:    *tlsKeyFile,
		ShutdownGrace: time.Duration(*shutdownGrace) * time.Second,
	}, reloader, dataLimiter, adminLimiter, fw, store, gate, tokens, keys, clk, lg)

	if err := srv.Start(); err != nil {
		log.Fatalf("edgegate: cannot start: %v", err)
	}

	setupCloseHandler(srv, lg)

	port := *httpPort
	if *tlsCertFile != "" {
		port = *httpsPort
	}
	lg.Println(fmt.Sprintf("edgegate started, listening on %s:%d", displayAddr(*listenAddr), port))

	select {}
}

func splitHosts(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := strings.TrimSpace(p); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func displayAddr(addr string) string {
	if addr == "" {
		return "0.0.0.0"
	}
	return addr
}
