// ABOUTME: Login and logout handlers minting and destroying caller credentials
// ABOUTME: Password login issues the bearer token; logout ends the hardware session

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/obs"
	"github.com/vaultgate/vaultgate/internal/store"
	"github.com/vaultgate/vaultgate/internal/tenant"
	"github.com/vaultgate/vaultgate/internal/token"
)

const loginLookupTimeout = 3 * time.Second

// SessionTokenHeader carries the hardware-verified session token on
// requests that reference it.
const SessionTokenHeader = "X-Session-Token"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	// The pipeline's RequireTenant gate guarantees a bound tenant here.
	resolved := tenant.FromContext(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "email and password are required", httpx.CodeAuthRequired)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), loginLookupTimeout)
	defer cancel()

	identity, err := s.store.GetIdentityByEmail(ctx, req.Email, resolved.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.rejectLogin(w, r, req.Email, "unknown email")
			return
		}
		s.logger.Error("login lookup failed", "email", req.Email, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)); err != nil {
		s.rejectLogin(w, r, req.Email, "password mismatch")
		return
	}

	claims := token.Claims{
		Subject:  identity.ID,
		Email:    identity.Email,
		Role:     string(identity.Role),
		TenantID: resolved.ID,
	}
	signed, err := s.tokens.Issue(claims, s.cfg.Auth.TokenTTL)
	if err != nil {
		s.logger.Error("token mint failed", "subject", identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}

	s.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    identity.ID,
		Action:       store.AuditLogin,
		ResourceType: "token",
		Tier:         store.TierMedium,
		RemoteAddr:   httpx.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	s.logger.Info("login", "subject", identity.ID, "tenant", resolved.ID)

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     signed,
		ExpiresAt: time.Now().UTC().Add(s.cfg.Auth.TokenTTL),
	})
}

func (s *Server) rejectLogin(w http.ResponseWriter, r *http.Request, email, reason string) {
	obs.AuthFailures.WithLabelValues("login").Inc()
	s.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    "unknown",
		Action:       store.AuditLoginFailed,
		ResourceType: "token",
		Detail:       map[string]any{"email": email, "reason": reason},
		Tier:         store.TierMedium,
		RemoteAddr:   httpx.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	// One message for unknown email and bad password alike.
	httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials", httpx.CodeAuthRequired)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	if sessionToken := r.Header.Get(SessionTokenHeader); sessionToken != "" {
		s.engine.EndSession(sessionToken)
	}

	s.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    ac.Identity.ID,
		Action:       store.AuditLogout,
		ResourceType: "session",
		Tier:         store.TierLow,
		RemoteAddr:   httpx.ClientIP(r),
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
