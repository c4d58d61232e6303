// ABOUTME: Request-scoped caller identity set by the auth middleware
// ABOUTME: Handlers read the authenticated username with FromContext or MustFromContext

package auth

import (
	"context"
)

// AuthContext is the authenticated caller of a request.
type AuthContext struct {
	Username string // normalized username from the token subject
	KnownAs  string // display name of the user
}

type callerKey struct{}

// WithAuth attaches the caller to ctx.
func WithAuth(ctx context.Context, caller *AuthContext) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// FromContext returns the caller attached to ctx, or nil.
func FromContext(ctx context.Context) *AuthContext {
	caller, _ := ctx.Value(callerKey{}).(*AuthContext)
	return caller
}

// MustFromContext returns the caller attached to ctx. Handlers behind
// HTTPAuthMiddleware always have one, so a missing caller is a wiring bug.
func MustFromContext(ctx context.Context) *AuthContext {
	caller := FromContext(ctx)
	if caller == nil {
		panic("auth: no caller in context; handler is not behind HTTPAuthMiddleware")
	}
	return caller
}
