// ABOUTME: Host-to-tenant resolution middleware for multi-tenant request routing
// ABOUTME: Binds a synthetic tenant for dev hosts and the liveness route, fails closed otherwise

package tenant

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/store"
)

// LivenessPath is the health route that bypasses tenant resolution.
const LivenessPath = "/livez"

// DevTenantID is the fixed id of the synthetic development tenant.
const DevTenantID = "tenant-dev"

// lookupTimeout bounds tenant store lookups; on timeout resolution fails closed.
const lookupTimeout = 3 * time.Second

// TenantStore is the narrow store interface the resolver consumes.
type TenantStore interface {
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*store.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*store.Tenant, error)
}

// Resolver maps inbound host headers to tenants.
type Resolver struct {
	store      TenantStore
	baseDomain string
	devHosts   map[string]bool
	logger     *slog.Logger
}

// NewResolver creates a tenant resolver. baseDomain is the platform
// domain used for subdomain-derived lookups; devHosts bind the synthetic
// development tenant.
func NewResolver(s TenantStore, baseDomain string, devHosts []string, logger *slog.Logger) *Resolver {
	dev := make(map[string]bool, len(devHosts))
	for _, h := range devHosts {
		dev[strings.ToLower(h)] = true
	}
	return &Resolver{
		store:      s,
		baseDomain: strings.ToLower(baseDomain),
		devHosts:   dev,
		logger:     logger,
	}
}

// devTenant returns the fixed synthetic tenant bound for local
// development and health checks.
func devTenant() *store.Tenant {
	return &store.Tenant{
		ID:        DevTenantID,
		Name:      "Development",
		Subdomain: "dev",
		Status:    store.TenantStatusActive,
		Tier:      "internal",
	}
}

// normalizeHost strips the port and lowercases the host header value.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// Middleware resolves the request host to a tenant and binds it into the
// request context. Unknown hosts get 404, non-active tenants 403, and
// store failures 500 — resolution always fails closed.
func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := normalizeHost(r.Host)

		if rs.devHosts[host] || r.URL.Path == LivenessPath {
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), devTenant())))
			return
		}

		t, err := rs.resolve(r.Context(), host)
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, "tenant not found", httpx.CodeTenantNotFound)
			return
		case err != nil:
			rs.logger.Error("tenant resolution failed", "host", host, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "tenant resolution failed", httpx.CodeTenantResolution)
			return
		}

		if t.Status != store.TenantStatusActive {
			httpx.WriteError(w, http.StatusForbidden, "tenant is not active", httpx.CodeTenantSuspended)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), t)))
	})
}

// resolve looks up a tenant by subdomain under the base domain, or by
// exact custom-domain match for everything else.
func (rs *Resolver) resolve(ctx context.Context, host string) (*store.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if rs.baseDomain != "" && strings.HasSuffix(host, "."+rs.baseDomain) {
		subdomain := strings.TrimSuffix(host, "."+rs.baseDomain)
		// Nested subdomains do not resolve
		if subdomain == "" || strings.Contains(subdomain, ".") {
			return nil, store.ErrNotFound
		}
		return rs.store.GetTenantBySubdomain(ctx, subdomain)
	}

	return rs.store.GetTenantByDomain(ctx, host)
}

// RequireTenant rejects any request that reached a handler without a
// tenant bound in context. Defends against middleware-ordering mistakes.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			httpx.WriteError(w, http.StatusBadRequest, "tenant context missing", httpx.CodeTenantContextMissing)
			return
		}
		next.ServeHTTP(w, r)
	})
}
