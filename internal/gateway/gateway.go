// ABOUTME: Gateway orchestrator that wires the store, hub, presence and events behind one HTTP server
// ABOUTME: Manages listeners (TCP or Tailscale), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/config"
	"github.com/2389/chathub/internal/dedupe"
	"github.com/2389/chathub/internal/events"
	"github.com/2389/chathub/internal/hub"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

// shutdownTimeout bounds graceful shutdown once Run's context is done.
const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the chathub server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	hub         *hub.Hub
	verifier    *auth.JWTVerifier
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// sessions tracks open websocket sessions so shutdown can close them
	sessions *sessionSet
}

// initStore creates the store, letting CHATHUB_DB_PATH override the config.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATHUB_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initMirror connects the Redis presence mirror when enabled.
func initMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger) (presence.Mirror, error) {
	rc := cfg.Presence.Redis
	if !rc.Enabled {
		return presence.NopMirror{}, nil
	}
	key := rc.Key
	if key == "" {
		key = presence.DefaultRedisKey
	}
	m, err := presence.NewRedisMirror(ctx, presence.RedisOptions{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Key:      key,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("presence mirror enabled", "addr", rc.Addr, "key", key)
	return m, nil
}

// initPublisher connects the NATS event publisher when enabled.
func initPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	nc := cfg.Events.NATS
	if !nc.Enabled {
		return events.NopPublisher{}, nil
	}
	return events.NewNATSPublisher(events.NATSOptions{
		URL:           nc.URL,
		SubjectPrefix: nc.SubjectPrefix,
		Name:          "chathub",
	}, logger)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mirror, err := initMirror(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initializing presence mirror: %w", err)
	}

	publisher, err := initPublisher(cfg, logger)
	if err != nil {
		_ = mirror.Close()
		_ = s.Close()
		return nil, fmt.Errorf("initializing event publisher: %w", err)
	}

	h := hub.New(hub.Options{
		Store:     s,
		Mirror:    mirror,
		Publisher: publisher,
		Dedupe:    dedupe.New(cfg.Hub.DedupeTTL, cfg.Hub.DedupeMaxEntries),
		Logger:    logger,
	})

	return newGateway(cfg, s, h, verifier, logger), nil
}

// newGateway assembles a gateway around already constructed components.
func newGateway(cfg *config.Config, s store.Store, h *hub.Hub, verifier *auth.JWTVerifier, logger *slog.Logger) *Gateway {
	gw := &Gateway{
		config:   cfg,
		store:    s,
		hub:      h,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is not checked; the token gates the upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger.With("component", "gateway"),
		sessions: newSessionSet(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	authMiddleware := auth.HTTPAuthMiddleware(g.store, g.verifier, logger)
	protect := func(fn http.HandlerFunc) http.Handler { return authMiddleware(fn) }

	mux.Handle("GET /api/messages", protect(g.handleListMessages))
	mux.Handle("POST /api/messages", protect(g.handleCreateMessage))
	mux.Handle("DELETE /api/messages/{id}", protect(g.handleDeleteMessage))
	mux.Handle("GET /api/messages/thread/{username}", protect(g.handleThread))
	mux.Handle("GET /api/presence", protect(g.handlePresence))
	mux.Handle("GET /hubs/message", protect(g.handleMessageHub))

	return mux
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Hub returns the messaging hub.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run prepares the hub, serves HTTP and blocks until the context is
// canceled or the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chathub", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes open websocket sessions and
// releases the store and outward connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server.
	g.sessions.closeAll(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "hub close", g.hub.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.hub.Registry().Count())
}
