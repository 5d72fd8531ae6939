// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import "context"

// AnonymousCaller is the identity used when authentication is disabled.
const AnonymousCaller = "anonymous"

// AuthContext holds the authenticated caller.
type AuthContext struct {
	CallerID string
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
