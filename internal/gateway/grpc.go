// ABOUTME: gRPC server construction with keepalive and auth interceptors
// ABOUTME: Registers the caller-facing bridge service and the health service

package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-bridge/internal/auth"
	"github.com/2389/coven-bridge/internal/config"
	"github.com/2389/coven-bridge/internal/transport"
)

func keepaliveOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// createAuthenticatedGRPCServer creates a gRPC server that requires bearer JWTs.
func createAuthenticatedGRPCServer(verifier *auth.JWTVerifier, logger *slog.Logger) *grpc.Server {
	opts := append(keepaliveOptions(),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(verifier, logger)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(verifier, logger)),
	)
	logger.Info("auth interceptors enabled (JWT)")
	return grpc.NewServer(opts...)
}

// createUnauthenticatedGRPCServer creates a gRPC server without auth (anonymous mode).
func createUnauthenticatedGRPCServer(logger *slog.Logger) *grpc.Server {
	opts := append(keepaliveOptions(),
		grpc.ChainUnaryInterceptor(auth.NoAuthUnaryInterceptor()),
		grpc.ChainStreamInterceptor(auth.NoAuthStreamInterceptor()),
	)
	logger.Warn("auth disabled - no jwt_secret configured")
	return grpc.NewServer(opts...)
}

// newVerifier returns nil when auth is disabled.
func newVerifier(cfg *config.Config) (*auth.JWTVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, nil
	}
	if len(cfg.Auth.JWTSecret) < auth.MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", auth.MinSecretLength)
	}
	return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)), nil
}

// createGRPCServer creates a gRPC server with or without auth based on the verifier.
func createGRPCServer(verifier *auth.JWTVerifier, logger *slog.Logger) *grpc.Server {
	if verifier != nil {
		return createAuthenticatedGRPCServer(verifier, logger)
	}
	return createUnauthenticatedGRPCServer(logger)
}

// registerGRPCServices registers the bridge and health services on the server.
func (g *Gateway) registerGRPCServices() {
	transport.NewBridgeServer(g.dispatcher, g.bridge, g.logger).Register(g.grpcServer)

	g.health = health.NewServer()
	g.health.SetServingStatus(transport.BridgeServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(g.grpcServer, g.health)
}

// setServing mirrors gate readiness into the gRPC health service.
func (g *Gateway) setServing(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(transport.BridgeServiceName, st)
}
