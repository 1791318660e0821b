// ABOUTME: HTTP authentication gate establishing caller identity per request
// ABOUTME: Bearer token with cookie fallback, tenant cross-check, fresh identity load

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/obs"
	"github.com/vaultgate/vaultgate/internal/store"
	"github.com/vaultgate/vaultgate/internal/tenant"
	"github.com/vaultgate/vaultgate/internal/token"
)

// TokenCookieName is the cookie consulted when no Authorization header is present.
const TokenCookieName = "vaultgate_token"

// AdminRoutePrefix marks routes exempt from the tenant-claim cross-check.
const AdminRoutePrefix = "/api/admin/"

// lookupTimeout bounds identity store lookups; on timeout the gate fails closed.
const lookupTimeout = 3 * time.Second

// LoginPath is the route that mints bearer tokens; the gate skips it.
const LoginPath = "/api/auth/login"

// skipPaths are reachable without authentication.
var skipPaths = map[string]bool{
	tenant.LivenessPath: true,
	LoginPath:           true,
}

// IdentityStore is the narrow store interface the gate consumes.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*store.Identity, error)
	GetIdentityInTenant(ctx context.Context, id, tenantID string) (*store.Identity, error)
}

// Gate is the authentication middleware for protected routes.
type Gate struct {
	identities IdentityStore
	tokens     *token.Service
	logger     *slog.Logger
}

// NewGate creates an authentication gate.
func NewGate(identities IdentityStore, tokens *token.Service, logger *slog.Logger) *Gate {
	return &Gate{
		identities: identities,
		tokens:     tokens,
		logger:     logger,
	}
}

// extractBearerToken pulls a bearer token from the Authorization header,
// falling back to the token cookie. Returns empty if neither is present.
func extractBearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	if c, err := r.Cookie(TokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

// IsAdminRoute reports whether a path is exempt from the tenant-claim check.
func IsAdminRoute(path string) bool {
	return strings.HasPrefix(path, AdminRoutePrefix)
}

// Middleware authenticates every protected route. Any failure inside the
// gate is a 401 (403 only for tenant-claim mismatch), never a 500 — the
// response must not reveal whether the token was malformed or the
// identity missing.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tok := extractBearerToken(r)
		if tok == "" {
			g.reject(w, "missing_token")
			return
		}

		resolved := tenant.FromContext(r.Context())
		adminRoute := IsAdminRoute(r.URL.Path)

		var subjectID string
		var claims *token.Claims
		var devToken bool

		if devID, ok := resolveDevToken(tok); ok {
			// Dev tokens resolve the identity directly by id, skipping
			// signature verification. Compiled out of production builds.
			subjectID = devID
			devToken = true
		} else {
			var err error
			claims, err = g.tokens.Verify(tok)
			if err != nil {
				g.logger.Warn("auth failure", "reason", "invalid_token", "error", err, "remote", httpx.ClientIP(r))
				g.reject(w, "invalid_token")
				return
			}
			subjectID = claims.Subject

			if !adminRoute {
				if resolved == nil || claims.TenantID != resolved.ID {
					obs.AuthFailures.WithLabelValues("tenant_mismatch").Inc()
					httpx.WriteError(w, http.StatusForbidden, "invalid tenant context", httpx.CodeInvalidTenantContext)
					return
				}
			}
		}

		identity, err := g.loadIdentity(r.Context(), subjectID, resolved, adminRoute || devToken)
		if err != nil {
			g.logger.Warn("auth failure", "reason", "identity_not_found", "subject", subjectID, "remote", httpx.ClientIP(r))
			g.reject(w, "identity_not_found")
			return
		}

		authCtx := &AuthContext{Identity: identity, Claims: claims}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

// loadIdentity performs the fresh per-request identity load: unscoped
// for admin routes and dev tokens, tenant-scoped otherwise.
func (g *Gate) loadIdentity(ctx context.Context, subjectID string, resolved *store.Tenant, unscoped bool) (*store.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if unscoped {
		return g.identities.GetIdentity(ctx, subjectID)
	}
	if resolved == nil {
		return nil, store.ErrNotFound
	}
	return g.identities.GetIdentityInTenant(ctx, subjectID, resolved.ID)
}

func (g *Gate) reject(w http.ResponseWriter, reason string) {
	obs.AuthFailures.WithLabelValues(reason).Inc()
	httpx.WriteError(w, http.StatusUnauthorized, "authentication required", httpx.CodeAuthRequired)
}

// RequireAdmin rejects non-admin identities. Must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := FromContext(r.Context())
		if authCtx == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "authentication required", httpx.CodeAuthRequired)
			return
		}
		if !authCtx.IsAdmin() {
			httpx.WriteError(w, http.StatusForbidden, "admin role required", httpx.CodeAuthorizationDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}
