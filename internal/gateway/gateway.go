// ABOUTME: Gateway orchestrator that wires the MCP transport, dashboard and health endpoints
// ABOUTME: Owns the HTTP server lifecycle on a TCP address or a tailscale node

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
	"strings"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/creatio-gateway/internal/auth"
	"github.com/2389/creatio-gateway/internal/config"
	"github.com/2389/creatio-gateway/internal/dashboard"
	"github.com/2389/creatio-gateway/internal/mcp"
	"github.com/2389/creatio-gateway/internal/tools"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Gateway orchestrates the creatio-gateway server components.
type Gateway struct {
	config      *config.Config
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	dispatcher *tools.Dispatcher
	mcpServer  *mcp.Server
	dashboard  *dashboard.Dashboard

	// mcpEndpoint is the SSE URL advertised to MCP clients
	mu          sync.RWMutex
	mcpEndpoint string

	closeOnce sync.Once
}

// Option customises a Gateway.
type Option func(*options)

type options struct {
	newClient tools.ClientFactory
	version   string
}

// WithClientFactory replaces the Creatio client constructor. Tests use it to
// avoid real upstream calls.
func WithClientFactory(f tools.ClientFactory) Option {
	return func(o *options) { o.newClient = f }
}

// WithVersion sets the version advertised over MCP and on the dashboard.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// buildProtect returns the bearer middleware for the configured secret, or
// nil when auth is disabled.
func buildProtect(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return nil, nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.Middleware(verifier, logger), nil
}

// determineMCPEndpoint picks the SSE URL clients should be configured with.
func determineMCPEndpoint(cfg *config.Config) string {
	if envGatewayURL := os.Getenv("CREATIO_GATEWAY_URL"); envGatewayURL != "" {
		return strings.TrimSuffix(envGatewayURL, "/") + mcp.PathSSE
	}
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			scheme = "https"
		}
		return scheme + "://" + cfg.Tailscale.Hostname + mcp.PathSSE
	}
	return "http://" + cfg.Server.HTTPAddr + mcp.PathSSE
}

// New wires every component onto one mux. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	protect, err := buildProtect(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := tools.NewDispatcher(tools.Config{
		NewClient: o.newClient,
		Logger:    logger,
		Timeout:   cfg.Creatio.RequestTimeout,
	})

	gw := &Gateway{
		config:      cfg,
		logger:      logger.With("component", "gateway"),
		dispatcher:  dispatcher,
		mcpEndpoint: determineMCPEndpoint(cfg),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Dispatcher: dispatcher,
		Registry: mcp.NewRegistry(mcp.RegistryConfig{
			SweepInterval: cfg.Sessions.SweepInterval,
			IdleTimeout:   cfg.Sessions.IdleTimeout,
			Logger:        logger,
		}),
		Logger:            logger,
		Name:              "creatio-gateway",
		Version:           o.version,
		KeepaliveInterval: cfg.Sessions.KeepaliveInterval,
		Protect:           protect,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	gw.mcpServer = mcpServer
	gw.mcpServer.RegisterRoutes(mux)

	dash, err := dashboard.New(dashboard.Config{
		Dispatcher: dispatcher,
		Slots:      dashboard.NewSlotStore(cfg.Dashboard.SessionTTL, cfg.Dashboard.MaxSessions),
		Logger:     logger,
		Defaults: dashboard.ConnectionDefaults{
			BaseURL:  cfg.Creatio.BaseURL,
			Username: cfg.Creatio.Username,
		},
		Protect: protect,
		Version: o.version,
	})
	if err != nil {
		gw.mcpServer.Close()
		return nil, fmt.Errorf("creating dashboard: %w", err)
	}
	gw.dashboard = dash
	gw.dashboard.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// MCPEndpoint returns the SSE URL for MCP client configuration.
func (g *Gateway) MCPEndpoint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mcpEndpoint
}

func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "mcp_endpoint", g.MCPEndpoint())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run listens and serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "creatio-gateway", "tailscale"), nil
}

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
	g.updateMCPEndpointFromStatus(status, tsCfg.HTTPS || tsCfg.Funnel)

	ln, err := g.createTailscaleListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

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

// updateMCPEndpointFromStatus switches the advertised endpoint to the
// node's MagicDNS name.
func (g *Gateway) updateMCPEndpointFromStatus(status *ipnstate.Status, secure bool) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	newEndpoint := scheme + "://" + strings.TrimSuffix(status.Self.DNSName, ".") + mcp.PathSSE

	g.mu.Lock()
	defer g.mu.Unlock()
	if newEndpoint != g.mcpEndpoint {
		g.logger.Info("updated MCP endpoint to use Tailscale DNS name", "old", g.mcpEndpoint, "new", newEndpoint)
		g.mcpEndpoint = newEndpoint
	}
}

func (g *Gateway) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener serves HTTPS with the tailnet's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
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

// closeComponents ends every MCP stream and drops every dashboard slot.
func (g *Gateway) closeComponents() {
	g.closeOnce.Do(func() {
		g.mcpServer.Close()
		g.dashboard.Close()
	})
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Streams block Shutdown until they return, so end them first.
	g.closeComponents()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
