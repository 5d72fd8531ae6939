// ABOUTME: Service gate guarding access to the background service handle.
// ABOUTME: Rejects calls while disconnected and parks a single readiness waiter.

// Package gate guards the background service handle. Calls pass through only
// while a service is connected; WaitInitialized lets one caller wait for the
// service to come up.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/service"
)

var (
	// ErrServiceUnavailable is returned when no service is connected. It maps
	// to the {"50000", "Service Start Failed"} boundary error.
	ErrServiceUnavailable = calls.ErrServiceUnavailable
	// ErrWaiterPending is returned when a readiness waiter is already parked.
	ErrWaiterPending = errors.New("initialization waiter already pending")
	// ErrInitTimeout is returned when the service does not connect in time.
	ErrInitTimeout = errors.New("timed out waiting for service")
)

// ReadyHook is notified whenever readiness changes.
type ReadyHook func(ready bool)

// Gate holds the current service handle.
type Gate struct {
	mu          sync.RWMutex
	svc         service.Service
	waiter      chan service.Service
	initTimeout time.Duration
	hooks       []ReadyHook
	logger      *slog.Logger
}

// New creates a gate with no service connected.
func New(initTimeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		initTimeout: initTimeout,
		logger:      logger.With("component", "gate"),
	}
}

// OnReadyChange registers a hook called after every Connect and Disconnect.
func (g *Gate) OnReadyChange(hook ReadyHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// Connect installs svc as the current handle and releases a parked waiter.
func (g *Gate) Connect(svc service.Service) {
	g.mu.Lock()
	g.svc = svc
	waiter := g.waiter
	g.waiter = nil
	hooks := g.hooks
	g.mu.Unlock()

	g.logger.Info("=== SERVICE CONNECTED ===", "port", svc.InitializedPort())

	if waiter != nil {
		waiter <- svc
	}
	for _, h := range hooks {
		h(true)
	}
}

// Disconnect clears the current handle.
func (g *Gate) Disconnect() {
	g.mu.Lock()
	had := g.svc != nil
	g.svc = nil
	hooks := g.hooks
	g.mu.Unlock()

	if !had {
		return
	}
	g.logger.Info("=== SERVICE DISCONNECTED ===")
	for _, h := range hooks {
		h(false)
	}
}

// IsReady reports whether a service is connected.
func (g *Gate) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.svc != nil
}

// Service returns the current handle or nil.
func (g *Gate) Service() service.Service {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.svc
}

func (g *Gate) current() (service.Service, error) {
	svc := g.Service()
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	return svc, nil
}

// Execute runs a simple call against the connected service.
func (g *Gate) Execute(ctx context.Context, inv calls.Invocation) ([]byte, error) {
	svc, err := g.current()
	if err != nil {
		return nil, err
	}
	return svc.Call(ctx, inv)
}

// ExecuteStream starts a streaming call against the connected service.
func (g *Gate) ExecuteStream(ctx context.Context, inv calls.Invocation) (service.Stream, error) {
	svc, err := g.current()
	if err != nil {
		return nil, err
	}
	return svc.CallStream(ctx, inv)
}

// WaitInitialized returns the service's readiness token, waiting for the
// service to connect if needed. Only one caller may wait at a time.
func (g *Gate) WaitInitialized(ctx context.Context) (int, error) {
	g.mu.Lock()
	if g.svc != nil {
		port := g.svc.InitializedPort()
		g.mu.Unlock()
		return port, nil
	}
	if g.waiter != nil {
		g.mu.Unlock()
		return 0, ErrWaiterPending
	}
	waiter := make(chan service.Service, 1)
	g.waiter = waiter
	g.mu.Unlock()

	g.logger.Debug("waiting for service to initialize", "timeout", g.initTimeout)

	var timeout <-chan time.Time
	if g.initTimeout > 0 {
		timer := time.NewTimer(g.initTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case svc := <-waiter:
		return svc.InitializedPort(), nil
	case <-timeout:
		g.release(waiter)
		return 0, ErrInitTimeout
	case <-ctx.Done():
		g.release(waiter)
		return 0, ctx.Err()
	}
}

// release clears the parked waiter unless Connect already claimed it.
func (g *Gate) release(waiter chan service.Service) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiter == waiter {
		g.waiter = nil
	}
}
