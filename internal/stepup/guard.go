// ABOUTME: HTTP guard forcing a fresh authentication ceremony on risky operations
// ABOUTME: Issues 403 challenges, verifies proof headers, and audits every decision

package stepup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/vaultgate/vaultgate/internal/audit"
	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/cache"
	"github.com/vaultgate/vaultgate/internal/ceremony"
	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/obs"
	"github.com/vaultgate/vaultgate/internal/store"
)

// Proof headers carried by a resubmitted request.
const (
	HeaderResponse    = "X-StepUp-Response"
	HeaderCorrelation = "X-StepUp-Correlation"
)

// correlationTTL bounds how long an issued correlation id stays
// redeemable, matching the ceremony challenge lifetime.
const correlationTTL = 5 * time.Minute

// Verifier is the slice of the ceremony engine the guard consumes.
type Verifier interface {
	BeginAuthentication(ctx context.Context, identity *store.Identity) (*protocol.CredentialAssertion, error)
	FinishAuthentication(ctx context.Context, identity *store.Identity, response io.Reader, remoteAddr string) (*ceremony.AuthResult, error)
}

// Guard wraps sensitive routes with the step-up policy. Requests that
// need stronger proof are short-circuited with a challenge; requests
// carrying proof headers are verified before the handler runs.
type Guard struct {
	policy *Policy
	engine Verifier
	cache  *cache.Cache
	audit  *audit.Recorder
	logger *slog.Logger
}

// NewGuard creates a step-up guard.
func NewGuard(policy *Policy, engine Verifier, c *cache.Cache, rec *audit.Recorder, logger *slog.Logger) *Guard {
	return &Guard{
		policy: policy,
		engine: engine,
		cache:  c,
		audit:  rec,
		logger: logger,
	}
}

// challengeBody is the 403 payload telling the caller how to proceed.
type challengeBody struct {
	Error         string                        `json:"error"`
	Code          string                        `json:"code"`
	Challenge     *protocol.CredentialAssertion `json:"challenge,omitempty"`
	CorrelationID string                        `json:"correlationId,omitempty"`
}

// operationBody is the subset of a sensitive request body the policy
// cares about.
type operationBody struct {
	Type        string `json:"type"`
	Amount      *int64 `json:"amount"`
	Destination string `json:"destination"`
}

func correlationKey(id string) string {
	return "stepup/" + id
}

// Protect wraps a sensitive route of the given kind. The business body
// is read for policy inspection and restored intact before the handler
// runs; verification never consumes it.
func (g *Guard) Protect(kind string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := auth.MustFromContext(r.Context())

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "unreadable request body", httpx.CodeStepUpFailed)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var parsed operationBody
		// Non-JSON bodies fall through with an empty operation; the
		// business handler rejects them on its own terms.
		_ = json.Unmarshal(body, &parsed)

		op := Operation{
			Kind:        kind,
			BodyType:    parsed.Type,
			AmountMinor: 0,
			HasAmount:   parsed.Amount != nil,
			Destination: parsed.Destination,
			CallerRole:  ac.Identity.Role,
		}
		if parsed.Amount != nil {
			op.AmountMinor = *parsed.Amount
		}

		if !g.policy.RequiresStepUp(op) {
			obs.StepUpDecisions.WithLabelValues("skipped").Inc()
			g.auditDecision(r, ac.Identity.ID, store.AuditStepUpSkipped, store.TierMedium, kind, op)
			next.ServeHTTP(w, r)
			return
		}

		evidence := r.Header.Get(HeaderResponse)
		if evidence == "" {
			g.forceStepUp(w, r, ac.Identity, kind, op)
			return
		}
		g.verifyStepUp(w, r, ac.Identity, kind, op, evidence, next)
	})
}

// forceStepUp short-circuits the request with a fresh authentication
// challenge and a correlation id binding the retry to this caller.
func (g *Guard) forceStepUp(w http.ResponseWriter, r *http.Request, identity *store.Identity, kind string, op Operation) {
	obs.StepUpDecisions.WithLabelValues("forced").Inc()
	g.auditDecision(r, identity.ID, store.AuditStepUpForced, store.TierHigh, kind, op)

	options, err := g.engine.BeginAuthentication(r.Context(), identity)
	if err != nil {
		if errors.Is(err, ceremony.ErrNoCredentials) {
			httpx.WriteJSON(w, http.StatusForbidden, challengeBody{
				Error: "operation requires a registered hardware credential",
				Code:  httpx.CodeStepUpRequired,
			})
			return
		}
		g.logger.Error("step-up challenge issuance failed", "subject", identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}

	correlationID := uuid.NewString()
	g.cache.Put(correlationKey(correlationID), identity.ID, correlationTTL)

	httpx.WriteJSON(w, http.StatusForbidden, challengeBody{
		Error:         "operation requires fresh hardware verification",
		Code:          httpx.CodeStepUpRequired,
		Challenge:     options,
		CorrelationID: correlationID,
	})
}

// verifyStepUp runs the proof headers through the ceremony engine's
// authentication-completion path and lets the original request proceed
// on a verified result.
func (g *Guard) verifyStepUp(w http.ResponseWriter, r *http.Request, identity *store.Identity, kind string, op Operation, evidence string, next http.Handler) {
	correlationID := r.Header.Get(HeaderCorrelation)

	subject, ok := g.cache.Take(correlationKey(correlationID))
	if !ok || subject != identity.ID {
		g.failStepUp(w, r, identity.ID, kind, "unknown or already used correlation id")
		return
	}

	assertion, err := base64.StdEncoding.DecodeString(evidence)
	if err != nil {
		g.failStepUp(w, r, identity.ID, kind, "undecodable proof header")
		return
	}

	result, err := g.engine.FinishAuthentication(r.Context(), identity, bytes.NewReader(assertion), httpx.ClientIP(r))
	if err != nil {
		g.logger.Error("step-up verification failed", "subject", identity.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}
	if !result.Verified {
		g.failStepUp(w, r, identity.ID, kind, result.Reason)
		return
	}

	obs.StepUpDecisions.WithLabelValues("verified").Inc()
	g.auditDecision(r, identity.ID, store.AuditStepUpVerified, store.TierHigh, kind, op)
	next.ServeHTTP(w, r)
}

func (g *Guard) failStepUp(w http.ResponseWriter, r *http.Request, subjectID, kind, reason string) {
	obs.StepUpDecisions.WithLabelValues("failed").Inc()
	g.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    subjectID,
		Action:       store.AuditStepUpFailed,
		ResourceType: "operation",
		ResourceID:   kind,
		Detail:       map[string]any{"reason": reason},
		Tier:         store.TierCritical,
		RemoteAddr:   httpx.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	httpx.WriteError(w, http.StatusUnauthorized, "step-up verification failed", httpx.CodeStepUpFailed)
}

func (g *Guard) auditDecision(r *http.Request, subjectID string, action store.AuditAction, tier store.RiskTier, kind string, op Operation) {
	detail := map[string]any{"kind": kind}
	if op.HasAmount {
		detail["amountMinor"] = op.AmountMinor
	}
	if op.Destination != "" {
		detail["destination"] = op.Destination
	}
	g.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    subjectID,
		Action:       action,
		ResourceType: "operation",
		ResourceID:   kind,
		Detail:       detail,
		Tier:         tier,
		RemoteAddr:   httpx.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
