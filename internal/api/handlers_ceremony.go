// ABOUTME: HTTP surface for the registration and authentication ceremonies
// ABOUTME: Bodies pass through to the ceremony engine as opaque structures

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/ceremony"
	"github.com/vaultgate/vaultgate/internal/httpx"
)

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	options, err := s.engine.BeginRegistration(r.Context(), ac.Identity)
	if err != nil {
		s.logger.Error("begin registration failed", "subject", ac.Identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	result, err := s.engine.FinishRegistration(r.Context(), ac.Identity, r.Body)
	if err != nil {
		s.logger.Error("finish registration failed", "subject", ac.Identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}
	if !result.Verified {
		httpx.WriteError(w, http.StatusBadRequest, result.Reason, ceremonyFailureCode(result.Reason))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuthenticateBegin(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	options, err := s.engine.BeginAuthentication(r.Context(), ac.Identity)
	if err != nil {
		if errors.Is(err, ceremony.ErrNoCredentials) {
			httpx.WriteError(w, http.StatusBadRequest, "no registered credentials", httpx.CodeCredentialMismatch)
			return
		}
		s.logger.Error("begin authentication failed", "subject", ac.Identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

type authenticateResponse struct {
	Verified     bool      `json:"verified"`
	SessionToken string    `json:"sessionToken"`
	ProofLevel   string    `json:"proofLevel"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *Server) handleAuthenticateComplete(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	result, err := s.engine.FinishAuthentication(r.Context(), ac.Identity, r.Body, httpx.ClientIP(r))
	if err != nil {
		s.logger.Error("finish authentication failed", "subject", ac.Identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}
	if !result.Verified {
		httpx.WriteError(w, http.StatusUnauthorized, result.Reason, ceremonyFailureCode(result.Reason))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authenticateResponse{
		Verified:     true,
		SessionToken: result.Session.Token,
		ProofLevel:   result.Session.ProofLevel,
		ExpiresAt:    result.Session.ExpiresAt,
	})
}

// ceremonyFailureCode maps an expected ceremony failure to its stable
// error code.
func ceremonyFailureCode(reason string) string {
	switch reason {
	case ceremony.ReasonChallengeExpired:
		return httpx.CodeChallengeExpired
	default:
		return httpx.CodeCredentialMismatch
	}
}
