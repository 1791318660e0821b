// ABOUTME: Tenant context propagation for request handling
// ABOUTME: Provides WithTenant/FromContext for the resolver-to-handler pipeline

package tenant

import (
	"context"

	"github.com/vaultgate/vaultgate/internal/store"
)

// tenantContextKey is the key type for storing a Tenant in context.Context.
type tenantContextKey struct{}

// WithTenant returns a new context with the tenant attached.
func WithTenant(ctx context.Context, t *store.Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, t)
}

// FromContext retrieves the tenant from the context, returning nil if not present.
func FromContext(ctx context.Context) *store.Tenant {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return nil
	}
	t, ok := val.(*store.Tenant)
	if !ok {
		return nil
	}
	return t
}
