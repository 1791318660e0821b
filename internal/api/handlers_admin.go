// ABOUTME: Admin-plane tenant management handlers behind the admin role check
// ABOUTME: Create, inspect, and suspend/reactivate tenants

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/store"
)

type tenantCreateRequest struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	Domain    string `json:"domain"`
}

type tenantView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Domain    string    `json:"domain,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewTenant(t *store.Tenant) tenantView {
	return tenantView{
		ID:        t.ID,
		Name:      t.Name,
		Subdomain: t.Subdomain,
		Domain:    t.CustomDomain,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
	}
}

func (s *Server) handleTenantCreate(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req tenantCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Subdomain == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name and subdomain are required", "")
		return
	}

	t := &store.Tenant{
		Name:         req.Name,
		Subdomain:    req.Subdomain,
		CustomDomain: req.Domain,
	}
	if err := s.store.CreateTenant(r.Context(), t); err != nil {
		s.logger.Error("tenant create failed", "subdomain", req.Subdomain, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}

	s.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    ac.Identity.ID,
		Action:       store.AuditOperationResult,
		ResourceType: "tenant",
		ResourceID:   t.ID,
		Detail:       map[string]any{"operation": "create", "subdomain": t.Subdomain},
		Tier:         store.TierHigh,
		RemoteAddr:   httpx.ClientIP(r),
	})
	httpx.WriteJSON(w, http.StatusCreated, viewTenant(t))
}

func (s *Server) handleTenantGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "tenant not found", httpx.CodeTenantNotFound)
			return
		}
		s.logger.Error("tenant lookup failed", "tenant", r.PathValue("id"), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewTenant(t))
}

type tenantStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	id := r.PathValue("id")

	var req tenantStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "a status is required", "")
		return
	}

	status := store.TenantStatus(req.Status)
	switch status {
	case store.TenantStatusActive, store.TenantStatusSuspended, store.TenantStatusInactive:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "status must be active, suspended, or inactive", "")
		return
	}

	if err := s.store.UpdateTenantStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "tenant not found", httpx.CodeTenantNotFound)
			return
		}
		s.logger.Error("tenant status update failed", "tenant", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}

	s.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    ac.Identity.ID,
		Action:       store.AuditOperationResult,
		ResourceType: "tenant",
		ResourceID:   id,
		Detail:       map[string]any{"operation": "status", "status": req.Status},
		Tier:         store.TierHigh,
		RemoteAddr:   httpx.ClientIP(r),
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}
