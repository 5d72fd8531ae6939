// ABOUTME: Tests for the Gateway orchestrator over real listeners
// ABOUTME: Runs a reference host behind bufconn and drives calls through the bridge API

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/coven-bridge/internal/auth"
	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/config"
	"github.com/2389/coven-bridge/internal/host"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/transport"
)

const testJWTSecret = "gateway-test-secret-0123456789abcdef"

// testConfig creates a minimal config for testing.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			GRPCAddr: "127.0.0.1:0",
			HTTPAddr: "127.0.0.1:0",
		},
		Service: config.ServiceConfig{
			Addr:        "passthrough:///service",
			InitTimeout: time.Second,
			CallTimeout: 5 * time.Second,
		},
		Bridge: config.BridgeConfig{
			MaxBufferedUpdates: 64,
			ReplayTTL:          time.Minute,
		},
		Database: config.DatabaseConfig{
			Path: ":memory:",
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHost serves the reference host over bufconn and returns dial options for it.
func startHost(t *testing.T) []grpc.DialOption {
	t.Helper()
	h, err := host.New(host.Config{Port: 7070, Logger: testLogger()})
	require.NoError(t, err)
	host.RegisterBuiltins(h)

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	transport.NewServiceServer(h, testLogger()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

type runningGateway struct {
	gw       *Gateway
	grpcAddr string
	httpURL  string
}

// runGateway starts the gateway on loopback listeners until the test ends.
func runGateway(t *testing.T, cfg *config.Config, serviceOpts []grpc.DialOption) *runningGateway {
	t.Helper()
	gw, err := New(cfg, testLogger(), WithServiceDialOptions(serviceOpts...))
	require.NoError(t, err)

	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.serve(ctx, grpcLn, httpLn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("gateway did not stop")
		}
	})

	return &runningGateway{
		gw:       gw,
		grpcAddr: grpcLn.Addr().String(),
		httpURL:  "http://" + httpLn.Addr().String(),
	}
}

func dialBridge(t *testing.T, addr string, extra ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, extra...)
	conn, err := grpc.NewClient(addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGatewayEndToEnd(t *testing.T) {
	rg := runGateway(t, testConfig(), startHost(t))
	require.Eventually(t, rg.gw.gate.IsReady, 5*time.Second, 10*time.Millisecond)

	conn := dialBridge(t, rg.grpcAddr)
	client := transport.NewBridgeClient(conn)

	reply, err := client.Dispatch(t.Context(), calls.Invocation{Name: "echo", Payload: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), reply.Data)

	reply, err = client.Dispatch(t.Context(), calls.Invocation{Name: calls.ControlInitialized})
	require.NoError(t, err)
	assert.Equal(t, 7070, reply.Value)

	reply, err = client.Dispatch(t.Context(), calls.Invocation{Name: "count/cb", Payload: []byte("3")})
	require.NoError(t, err)
	token, err := calls.DecodeStreamAck(reply.Data)
	require.NoError(t, err)

	listener, err := client.Listen(t.Context(), token)
	require.NoError(t, err)
	var updates []string
	for {
		data, err := listener.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		updates = append(updates, string(data))
	}
	assert.Equal(t, []string{"1", "2", "3"}, updates)

	code, body := get(t, rg.httpURL+"/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "7070")

	health, err := healthpb.NewHealthClient(conn).Check(t.Context(), &healthpb.HealthCheckRequest{
		Service: transport.BridgeServiceName,
	})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.GetStatus())

	var records []*store.CallRecord
	require.Eventually(t, func() bool {
		code, body := get(t, rg.httpURL+"/api/calls?limit=10")
		if code != http.StatusOK || json.Unmarshal([]byte(body), &records) != nil {
			return false
		}
		for _, rec := range records {
			if rec.Method == "count/cb" && rec.Status == store.StatusOK {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	methods := make([]string, 0, len(records))
	for _, rec := range records {
		methods = append(methods, rec.Method)
	}
	assert.Contains(t, methods, "echo")

	code, body = get(t, rg.httpURL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "coven_bridge_calls_total")
}

func TestGatewayWithoutService(t *testing.T) {
	cfg := testConfig()
	cfg.Service.InitTimeout = 50 * time.Millisecond
	rg := runGateway(t, cfg, nil)

	code, _ := get(t, rg.httpURL+"/health")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, rg.httpURL+"/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	client := transport.NewBridgeClient(dialBridge(t, rg.grpcAddr))
	_, err := client.Dispatch(t.Context(), calls.Invocation{Name: "echo"})
	var ce *calls.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, calls.CodeServiceUnavailable, ce.Code)

	_, err = client.Dispatch(t.Context(), calls.Invocation{Name: calls.ControlInitialized})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, calls.CodeServiceUnavailable, ce.Code)
}

func TestGatewayAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = testJWTSecret
	rg := runGateway(t, cfg, startHost(t))
	require.Eventually(t, rg.gw.gate.IsReady, 5*time.Second, 10*time.Millisecond)

	anon := transport.NewBridgeClient(dialBridge(t, rg.grpcAddr))
	_, err := anon.Dispatch(t.Context(), calls.Invocation{Name: "echo"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := auth.NewJWTVerifier([]byte(testJWTSecret)).Generate("tester", time.Hour)
	require.NoError(t, err)
	conn := dialBridge(t, rg.grpcAddr, grpc.WithPerRPCCredentials(auth.BearerCredentials{Token: token, Insecure: true}))
	reply, err := transport.NewBridgeClient(conn).Dispatch(t.Context(), calls.Invocation{Name: "echo", Payload: []byte("ok")})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), reply.Data)

	// Health stays open without a token.
	_, err = healthpb.NewHealthClient(dialBridge(t, rg.grpcAddr)).Check(t.Context(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	code, _ := get(t, rg.httpURL+"/api/calls")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestNewRejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"
	_, err := New(cfg, testLogger())
	require.Error(t, err)
}

func TestHandleListCallsValidation(t *testing.T) {
	gw, err := New(testConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	handler := gw.httpServer.Handler

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"ok", http.MethodGet, "/api/calls", http.StatusOK},
		{"limit", http.MethodGet, "/api/calls?limit=5", http.StatusOK},
		{"bad limit", http.MethodGet, "/api/calls?limit=abc", http.StatusBadRequest},
		{"zero limit", http.MethodGet, "/api/calls?limit=0", http.StatusBadRequest},
		{"post", http.MethodPost, "/api/calls", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	gw, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
	require.NoError(t, gw.Shutdown(context.Background()))
}
