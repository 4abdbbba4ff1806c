// ABOUTME: Authentication context for tracking identity through request handlers.
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context.

package auth

import (
	"context"
)

// AuthContext holds the authenticated identity extracted from a request.
// Populated by the server auth stage and retrieved from context in tool
// handlers. Handlers read the tenant from here, never from arguments.
type AuthContext struct {
	TenantID string
	UserID   string
	Scopes   []string
}

// HasScope returns true if the principal was granted the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
