// ABOUTME: Gateway orchestrator that coordinates adapter ingest, gRPC, and HTTP servers
// ABOUTME: Owns the unified message store, the embedded bus, and the listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/bus"
	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/dedupe"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/msgstore"
)

// pusher is implemented by adapters fed from outside the fetch loop (webhooks).
type pusher interface {
	adapter.Adapter
	Push(m message.UnifiedMessage)
}

// syncer is implemented by adapters that keep a long-lived connection open.
type syncer interface {
	adapter.Adapter
	Run(ctx context.Context) error
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithVersion sets the version reported by Health.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// WithSleep replaces the wait between fetches. fn must return ctx.Err() once
// ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// WithJitter replaces the backoff jitter source. fn returns a value in [0, 1).
func WithJitter(fn func() float64) Option {
	return func(g *Gateway) { g.jitter = fn }
}

// Gateway ingests every enabled platform into one store and serves it to
// agents over gRPC and HTTP.
type Gateway struct {
	config      *config.Config
	store       *msgstore.Store
	tombstones  *dedupe.Cache
	ingesters   []*ingester
	syncers     []syncer
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	tlsConfig   *tls.Config
	tokens      auth.TokenVerifier
	logger      *slog.Logger
	version     string

	// bus carries webhook deliveries to push-fed adapters; nil without any
	busServer *bus.Server
	bus       *bus.Client
	bridge    *bridge

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64

	shutdownOnce sync.Once
	shutdownErr  error
}

// createGRPCServer creates a gRPC server with auth interceptors when a JWT
// secret is configured.
func createGRPCServer(tlsCfg *tls.Config, tokens auth.TokenVerifier, logger *slog.Logger) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	if tokens != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(tokens, logger)),
			grpc.ChainStreamInterceptor(auth.StreamInterceptor(tokens, logger)),
		)
		logger.Info("auth interceptors enabled (JWT)")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}
	return grpc.NewServer(opts...)
}

// loadTLSConfig reads the server certificate when TLS is configured.
func loadTLSConfig(cfg config.ServerConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// PlatformServiceName is the grpc.health.v1 service name reporting one
// platform's ingest health.
func PlatformServiceName(p message.Platform) string {
	return gatewayrpc.ServiceName + "/" + p.String()
}

// New creates a Gateway for the given adapters. Disabled adapters are skipped.
func New(cfg *config.Config, adapters []adapter.Adapter, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	tlsCfg, err := loadTLSConfig(cfg.Server)
	if err != nil {
		return nil, err
	}

	tombstones := dedupe.New(cfg.Gateway.TombstoneTTL, cfg.Gateway.MaxTombstones)
	gw := &Gateway{
		config:     cfg,
		tombstones: tombstones,
		store: msgstore.New(msgstore.Config{
			MaxRetained: cfg.Gateway.MaxRetained,
			Tombstones:  tombstones,
			Logger:      logger,
		}),
		health:    health.NewServer(),
		tlsConfig: tlsCfg,
		logger:    logger.With("component", "gateway"),
		version:   "dev",
		sleep:     sleepContext,
		jitter:    rand.Float64,
	}
	for _, opt := range opts {
		opt(gw)
	}

	if cfg.Auth.JWTSecret != "" {
		gw.tokens = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	var pushers []pusher
	for _, a := range adapters {
		if !a.Enabled() {
			gw.logger.Info("platform disabled", "platform", a.Platform())
			continue
		}
		gw.ingesters = append(gw.ingesters, gw.newIngester(a))
		if s, ok := a.(syncer); ok {
			gw.syncers = append(gw.syncers, s)
		}
		if p, ok := a.(pusher); ok {
			pushers = append(pushers, p)
		}
	}

	if len(pushers) > 0 {
		if err := gw.startBus(pushers); err != nil {
			gw.closeOptionalComponents()
			return nil, err
		}
	}

	gw.grpcServer = createGRPCServer(tlsCfg, gw.tokens, gw.logger)
	gatewayrpc.RegisterMessagingGatewayServer(gw.grpcServer, gw)
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	gw.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	gw.health.SetServingStatus(gatewayrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	for _, in := range gw.ingesters {
		gw.health.SetServingStatus(PlatformServiceName(in.platform), healthpb.HealthCheckResponse_SERVING)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// startBus boots the embedded NATS server and bridges its inbound subjects
// into the push-fed adapters.
func (g *Gateway) startBus(pushers []pusher) error {
	srv, err := bus.Start(bus.Config{Host: g.config.Bus.Host, Port: g.config.Bus.Port}, g.logger)
	if err != nil {
		return fmt.Errorf("starting bus: %w", err)
	}
	g.busServer = srv

	client, err := bus.Connect(srv.ClientURL(), g.logger)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	g.bus = client

	g.bridge = newBridge(g.logger)
	for _, p := range pushers {
		if err := g.bridge.attach(client, p); err != nil {
			return err
		}
	}
	return nil
}

// Store exposes the unified message store.
func (g *Gateway) Store() *msgstore.Store {
	return g.store
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
		"tls", g.tlsConfig != nil,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if g.tlsConfig != nil {
		httpLn = tls.NewListener(httpLn, g.tlsConfig)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startIngest runs every adapter loop and sync connection until ctx is done.
// The returned channel is closed once they have all stopped.
func (g *Gateway) startIngest(ctx context.Context) <-chan struct{} {
	eg, ctx := errgroup.WithContext(ctx)
	for _, in := range g.ingesters {
		eg.Go(func() error {
			in.run(ctx)
			return nil
		})
	}
	for _, s := range g.syncers {
		eg.Go(func() error {
			// A broken sync connection only starves that platform; ingest for
			// the others keeps going.
			if err := s.Run(ctx); err != nil {
				g.logger.Error("platform sync stopped", "platform", s.Platform(), "error", err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(done)
	}()
	return done
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts ingest and both servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	ingestCtx, stopIngest := context.WithCancel(ctx)
	defer stopIngest()
	ingestDone := g.startIngest(ingestCtx)

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopIngest()
	<-ingestDone

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	return filepath.Join(homeDir, ".local", "share", "clawswarm", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
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
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
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
// Webhook platforms need a public URL, which only funnel provides.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes optional components that may be nil.
func (g *Gateway) closeOptionalComponents() {
	if g.bridge != nil {
		g.bridge.close()
	}
	if g.bus != nil {
		g.bus.Close()
	}
	if g.busServer != nil {
		g.busServer.Close()
	}
	if g.tombstones != nil {
		g.tombstones.Close()
	}
}

// Shutdown stops both servers and releases the bus and store. Only the first
// call does any work.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() { g.shutdownErr = g.shutdown(ctx) })
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Streams end when the store closes; GracefulStop waits on them.
	g.health.Shutdown()
	g.store.Close()
	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.closeOptionalComponents()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
