// ABOUTME: Gateway orchestrator that coordinates the gRPC and HTTP servers
// ABOUTME: Wires the call ledger, gate, bridge, dispatcher and service link lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/coven-bridge/internal/auth"
	"github.com/2389/coven-bridge/internal/bridge"
	"github.com/2389/coven-bridge/internal/config"
	"github.com/2389/coven-bridge/internal/dispatch"
	"github.com/2389/coven-bridge/internal/gate"
	"github.com/2389/coven-bridge/internal/metrics"
	"github.com/2389/coven-bridge/internal/ratelimit"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/subscription"
	"github.com/2389/coven-bridge/internal/transport"
)

// limiterIdleTTL is how long an unused per-method bucket is kept.
const limiterIdleTTL = 10 * time.Minute

// Gateway orchestrates the coven-bridge server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	metrics    *metrics.Metrics
	gate       *gate.Gate
	bridge     *bridge.Bridge
	dispatcher *dispatch.Dispatcher
	link       *transport.ServiceLink
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Gateway. Used by tests to reach in-memory services.
type Option func(*options)

type options struct {
	linkDialOptions []grpc.DialOption
}

// WithServiceDialOptions replaces the dial options used for the background service.
func WithServiceDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.linkDialOptions = opts }
}

// initStore creates the call ledger store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_BRIDGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("coven_bridge")
	}

	g := gate.New(cfg.Service.InitTimeout, logger)
	b := bridge.New(bridge.Config{
		Executor: g,
		Subscriptions: subscription.Config{
			BufferUpdates: cfg.Bridge.Buffering(),
			MaxBuffered:   cfg.Bridge.MaxBufferedUpdates,
			ReplayTTL:     cfg.Bridge.ReplayTTL,
		},
		Ledger:  s,
		Metrics: m,
		Logger:  logger,
	})
	d := dispatch.New(dispatch.Config{
		Gate:        g,
		Streams:     b,
		Ledger:      s,
		Metrics:     m,
		Limiter:     ratelimit.New(cfg.Limits.CallsPerSecond, cfg.Limits.Burst, limiterIdleTTL),
		CallTimeout: cfg.Service.CallTimeout,
		Logger:      logger,
	})

	link, err := transport.NewServiceLink(transport.LinkConfig{
		Addr:        cfg.Service.Addr,
		Gate:        g,
		Logger:      logger,
		DialOptions: o.linkDialOptions,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating service link: %w", err)
	}

	gw := &Gateway{
		config:     cfg,
		store:      s,
		metrics:    m,
		gate:       g,
		bridge:     b,
		dispatcher: d,
		link:       link,
		grpcServer: createGRPCServer(verifier, logger),
		logger:     logger.With("component", "gateway"),
	}
	gw.registerGRPCServices()

	g.OnReadyChange(func(ready bool) {
		m.SetServiceReady(ready)
		gw.setServing(ready)
	})

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if m != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle(path, m.Handler())
		logger.Info("metrics enabled", "path", path)
	}

	gw.registerHTTPAPIRoutes(mux, verifier)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, verifier *auth.JWTVerifier) {
	if verifier != nil {
		authMiddleware := auth.HTTPAuthMiddleware(verifier)
		mux.Handle("/api/calls", authMiddleware(http.HandlerFunc(g.handleListCalls)))
		g.logger.Info("HTTP auth middleware enabled")
		return
	}
	mux.HandleFunc("/api/calls", g.handleListCalls)
	g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting bridge",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
		"service_addr", g.config.Service.Addr,
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

	return grpcLn, httpLn, nil
}

// Run starts the servers and the service link and blocks until the context
// is canceled or a server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupTCPListeners()
	if err != nil {
		return err
	}
	return g.serve(ctx, grpcLn, httpLn)
}

func (g *Gateway) serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return g.link.Run(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
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

// Shutdown stops the servers, cancels in-flight streaming calls, closes every
// open subscription and releases the store. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down bridge")

	var errs []error
	g.health.Shutdown()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Listen streams end once their subscriptions close.
	errs = appendCloseError(errs, "bridge shutdown", g.bridge.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while the background service is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	svc := g.gate.Service()
	if svc == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("service not connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (service port %d)", svc.InitializedPort())
}
