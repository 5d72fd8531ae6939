// ABOUTME: Keeps the gate connected to the background service over gRPC.
// ABOUTME: Handshakes on connect and disconnects the gate when the channel fails.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-bridge/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultRetryInterval    = 2 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
)

// Connector receives service handles as the link comes and goes.
type Connector interface {
	Connect(svc service.Service)
	Disconnect()
}

// LinkConfig configures a ServiceLink.
type LinkConfig struct {
	Addr             string
	Gate             Connector
	Logger           *slog.Logger
	RetryInterval    time.Duration
	HandshakeTimeout time.Duration
	// DialOptions replace the default insecure transport credentials.
	DialOptions []grpc.DialOption
}

// ServiceLink dials the background service and reports it to the gate.
type ServiceLink struct {
	cfg    LinkConfig
	logger *slog.Logger
}

// NewServiceLink validates cfg and fills defaults.
func NewServiceLink(cfg LinkConfig) (*ServiceLink, error) {
	if cfg.Addr == "" {
		return nil, errors.New("service address is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("gate is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if len(cfg.DialOptions) == 0 {
		cfg.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
	}
	return &ServiceLink{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "service-link", "addr", cfg.Addr),
	}, nil
}

// Run keeps the link up until ctx is cancelled. The gate is always
// disconnected on return.
func (l *ServiceLink) Run(ctx context.Context) error {
	conn, err := grpc.NewClient(l.cfg.Addr, l.cfg.DialOptions...)
	if err != nil {
		return fmt.Errorf("creating service client: %w", err)
	}
	defer conn.Close()
	defer l.cfg.Gate.Disconnect()

	for {
		svc, err := l.handshake(ctx, conn)
		if err == nil {
			l.cfg.Gate.Connect(svc)
			l.watch(ctx, conn)
			l.cfg.Gate.Disconnect()
		} else if ctx.Err() == nil {
			l.logger.Debug("service handshake failed", "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(l.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *ServiceLink) handshake(ctx context.Context, conn *grpc.ClientConn) (*RemoteService, error) {
	hsCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	defer cancel()
	return DialService(hsCtx, conn, l.logger)
}

// watch blocks until the channel fails or ctx is cancelled.
func (l *ServiceLink) watch(ctx context.Context, conn *grpc.ClientConn) {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.TransientFailure, connectivity.Shutdown:
			l.logger.Warn("service channel lost", "state", state.String())
			return
		case connectivity.Idle:
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return
		}
	}
}
