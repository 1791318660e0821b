// ABOUTME: Shared HTTP response helpers and client address extraction
// ABOUTME: All failure payloads carry the {error, code} shape

package httpx

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// ErrorBody is the standard failure payload. Code is a stable
// machine-readable identifier so clients never string-match human text.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Stable machine-readable error codes.
const (
	CodeTenantNotFound       = "TENANT_NOT_FOUND"
	CodeTenantSuspended      = "TENANT_SUSPENDED"
	CodeTenantResolution     = "TENANT_RESOLUTION_ERROR"
	CodeTenantContextMissing = "TENANT_CONTEXT_MISSING"
	CodeAuthRequired         = "AUTHENTICATION_REQUIRED"
	CodeInvalidTenantContext = "INVALID_TENANT_CONTEXT"
	CodeAuthorizationDenied  = "AUTHORIZATION_DENIED"
	CodeChallengeExpired     = "CHALLENGE_EXPIRED_OR_MISSING"
	CodeCredentialMismatch   = "CREDENTIAL_MISMATCH"
	CodeStepUpRequired       = "STEP_UP_REQUIRED"
	CodeStepUpFailed         = "STEP_UP_FAILED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInfrastructure       = "INFRASTRUCTURE_ERROR"
)

// WriteJSON writes a JSON response with the given status code.
// Sensitive responses must not be cached.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a standard failure payload.
func WriteError(w http.ResponseWriter, status int, msg, code string) {
	WriteJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// ClientIP extracts the caller's network identity from the request,
// honoring X-Forwarded-For and X-Real-IP for proxied deployments.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
