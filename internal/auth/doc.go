// Package auth authenticates callers of the bridge's gRPC API.
//
// When a JWT secret is configured, every call must carry an
// "authorization: Bearer <token>" metadata header holding an HS256 token whose
// "sub" claim names the caller. Without a secret the NoAuth interceptors
// attach an anonymous identity instead.
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	grpc.NewServer(
//		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(verifier, logger)),
//		grpc.ChainStreamInterceptor(auth.StreamInterceptor(verifier, logger)),
//	)
//
// Handlers read the identity with FromContext.
package auth
