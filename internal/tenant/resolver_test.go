// ABOUTME: Unit tests for the tenant resolver middleware
// ABOUTME: Covers dev hosts, subdomain/custom-domain lookup, suspension and fail-closed paths

package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vaultgate/vaultgate/internal/store"
)

// fakeTenantStore is an in-memory TenantStore for resolver tests.
type fakeTenantStore struct {
	bySubdomain map[string]*store.Tenant
	byDomain    map[string]*store.Tenant
	err         error
}

func (f *fakeTenantStore) GetTenantBySubdomain(_ context.Context, sub string) (*store.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.bySubdomain[sub]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeTenantStore) GetTenantByDomain(_ context.Context, domain string) (*store.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.byDomain[domain]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func testResolver(fs *fakeTenantStore) *Resolver {
	return NewResolver(fs, "vaultgate.io", []string{"localhost", "127.0.0.1"}, slog.Default())
}

// capture runs the middleware and returns the recorder plus the tenant
// seen by the next handler (nil if the chain was short-circuited).
func capture(rs *Resolver, host, path string) (*httptest.ResponseRecorder, *store.Tenant) {
	var seen *store.Tenant
	h := rs.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func TestMiddleware_DevHostBindsSyntheticTenant(t *testing.T) {
	rs := testResolver(&fakeTenantStore{})

	rec, seen := capture(rs, "localhost:8080", "/api/accounts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != DevTenantID {
		t.Errorf("bound tenant = %+v, want synthetic dev tenant", seen)
	}
}

func TestMiddleware_LivenessBypassesResolution(t *testing.T) {
	rs := testResolver(&fakeTenantStore{err: errors.New("store down")})

	rec, seen := capture(rs, "whatever.example", LivenessPath)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != DevTenantID {
		t.Errorf("bound tenant = %+v, want synthetic dev tenant", seen)
	}
}

func TestMiddleware_SubdomainLookup(t *testing.T) {
	acme := &store.Tenant{ID: "tenant-acme", Subdomain: "acme", Status: store.TenantStatusActive}
	rs := testResolver(&fakeTenantStore{bySubdomain: map[string]*store.Tenant{"acme": acme}})

	rec, seen := capture(rs, "acme.vaultgate.io", "/api/accounts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != "tenant-acme" {
		t.Errorf("bound tenant = %+v, want acme", seen)
	}
}

func TestMiddleware_CustomDomainLookup(t *testing.T) {
	acme := &store.Tenant{ID: "tenant-acme", Status: store.TenantStatusActive}
	rs := testResolver(&fakeTenantStore{byDomain: map[string]*store.Tenant{"bank.acme.example": acme}})

	rec, seen := capture(rs, "bank.acme.example", "/api/accounts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != "tenant-acme" {
		t.Errorf("bound tenant = %+v, want acme", seen)
	}
}

func TestMiddleware_UnknownHost404(t *testing.T) {
	rs := testResolver(&fakeTenantStore{})

	rec, seen := capture(rs, "ghost.vaultgate.io", "/api/accounts")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if seen != nil {
		t.Error("next handler must not run for unknown host")
	}
	if body := decodeError(t, rec); body["code"] != "TENANT_NOT_FOUND" {
		t.Errorf("code = %q, want TENANT_NOT_FOUND", body["code"])
	}
}

func TestMiddleware_SuspendedTenant403(t *testing.T) {
	acme := &store.Tenant{ID: "tenant-acme", Subdomain: "acme", Status: store.TenantStatusSuspended}
	rs := testResolver(&fakeTenantStore{bySubdomain: map[string]*store.Tenant{"acme": acme}})

	rec, seen := capture(rs, "acme.vaultgate.io", "/api/accounts")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if seen != nil {
		t.Error("next handler must not run for suspended tenant")
	}
	if body := decodeError(t, rec); body["code"] != "TENANT_SUSPENDED" {
		t.Errorf("code = %q, want TENANT_SUSPENDED", body["code"])
	}
}

func TestMiddleware_StoreFailureFailsClosed(t *testing.T) {
	rs := testResolver(&fakeTenantStore{err: errors.New("connection refused")})

	rec, seen := capture(rs, "acme.vaultgate.io", "/api/accounts")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if seen != nil {
		t.Error("next handler must not run on store failure")
	}
	if body := decodeError(t, rec); body["code"] != "TENANT_RESOLUTION_ERROR" {
		t.Errorf("code = %q, want TENANT_RESOLUTION_ERROR", body["code"])
	}
}

func TestMiddleware_NestedSubdomainNotFound(t *testing.T) {
	acme := &store.Tenant{ID: "tenant-acme", Subdomain: "acme", Status: store.TenantStatusActive}
	rs := testResolver(&fakeTenantStore{bySubdomain: map[string]*store.Tenant{"acme": acme}})

	rec, _ := capture(rs, "extra.acme.vaultgate.io", "/api/accounts")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRequireTenant(t *testing.T) {
	h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Without a tenant bound
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body := decodeError(t, rec); body["code"] != "TENANT_CONTEXT_MISSING" {
		t.Errorf("code = %q, want TENANT_CONTEXT_MISSING", body["code"])
	}

	// With a tenant bound
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req = req.WithContext(WithTenant(req.Context(), devTenant()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
