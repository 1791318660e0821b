// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/vaultgate/vaultgate/internal/store"
	"github.com/vaultgate/vaultgate/internal/token"
)

// AuthContext holds the authenticated identity established by the gate.
// The identity is loaded fresh from the store on every request; it is
// never cached across requests.
type AuthContext struct {
	Identity *store.Identity
	Claims   *token.Claims
}

// IsAdmin returns true if the identity carries the admin role.
func (a *AuthContext) IsAdmin() bool {
	return a.Identity != nil && a.Identity.Role == store.RoleAdmin
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
