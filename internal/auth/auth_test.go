// ABOUTME: Unit tests for JWT verification and the gRPC auth interceptors
// ABOUTME: Tests valid, invalid and expired tokens plus metadata extraction

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-0123456789")

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("ui-shell", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotID, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if gotID != "ui-shell" {
		t.Errorf("Verify() = %q, want %q", gotID, "ui-shell")
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	other, err := NewJWTVerifier([]byte("a-completely-different-secret-value")).Generate("x", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"wrong secret", other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("ui-shell", -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := NewJWTVerifier(testSecret).Verify(token); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func callUnary(t *testing.T, interceptor grpc.UnaryServerInterceptor, md metadata.MD) (*AuthContext, error) {
	t.Helper()
	ctx := t.Context()
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	var seen *AuthContext
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/test"}, func(ctx context.Context, _ any) (any, error) {
		seen = FromContext(ctx)
		return nil, nil
	})
	return seen, err
}

func TestUnaryInterceptor(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("ui-shell", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	interceptor := UnaryInterceptor(verifier, nil)

	t.Run("valid bearer", func(t *testing.T) {
		authCtx, err := callUnary(t, interceptor, metadata.Pairs("authorization", "Bearer "+token))
		if err != nil {
			t.Fatalf("interceptor error = %v", err)
		}
		if authCtx == nil || authCtx.CallerID != "ui-shell" {
			t.Errorf("auth context = %+v", authCtx)
		}
	})

	rejects := []struct {
		name string
		md   metadata.MD
	}{
		{"no metadata", nil},
		{"no header", metadata.Pairs("x-other", "1")},
		{"not bearer", metadata.Pairs("authorization", "Basic abc")},
		{"bad token", metadata.Pairs("authorization", "Bearer nope")},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callUnary(t, interceptor, tt.md)
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("code = %v, want Unauthenticated", status.Code(err))
			}
		})
	}
}

func TestNoAuthUnaryInterceptor(t *testing.T) {
	authCtx, err := callUnary(t, NoAuthUnaryInterceptor(), nil)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if authCtx == nil || authCtx.CallerID != AnonymousCaller {
		t.Errorf("auth context = %+v", authCtx)
	}
}

func TestBearerCredentials(t *testing.T) {
	creds := BearerCredentials{Token: "abc", Insecure: true}
	md, err := creds.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata() error = %v", err)
	}
	if md["authorization"] != "Bearer abc" {
		t.Errorf("authorization = %q", md["authorization"])
	}
	if creds.RequireTransportSecurity() {
		t.Error("insecure credentials should not require transport security")
	}
}

func TestUnaryInterceptorAllowsHealth(t *testing.T) {
	interceptor := UnaryInterceptor(NewJWTVerifier(testSecret), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, err := interceptor(t.Context(), nil, info, func(context.Context, any) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("health check rejected: %v", err)
	}
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("dashboard", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen *AuthContext
	handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen == nil || seen.CallerID != "dashboard" {
		t.Errorf("auth context = %+v", seen)
	}
}
