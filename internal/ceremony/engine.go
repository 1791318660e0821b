// ABOUTME: Credential ceremony engine for hardware-backed registration and authentication
// ABOUTME: Three-step challenge/response state machines built on go-webauthn

package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/vaultgate/vaultgate/internal/audit"
	"github.com/vaultgate/vaultgate/internal/cache"
	"github.com/vaultgate/vaultgate/internal/obs"
	"github.com/vaultgate/vaultgate/internal/store"
)

const (
	// challengeTTL bounds how long a begin call's challenge stays usable.
	challengeTTL = 5 * time.Minute
	// sessionTTL is the absolute lifetime of a hardware-verified session.
	sessionTTL = time.Hour
	// storeTimeout bounds credential store operations; a hung store fails
	// the ceremony instead of stalling it.
	storeTimeout = 3 * time.Second
)

// Failure reasons returned in non-verified results. These are expected
// protocol outcomes, not errors.
const (
	ReasonChallengeExpired  = "challenge not found or expired"
	ReasonMalformedResponse = "malformed ceremony response"
	ReasonVerificationFail  = "credential verification failed"
	ReasonNoUserVerify      = "user verification not asserted"
	ReasonUnknownCredential = "credential not bound to subject"
	ReasonDuplicate         = "credential already registered"
	ReasonCounterRegression = "credential counter did not advance"
)

// CredentialStore is the narrow store interface the engine consumes.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *store.Credential) error
	GetCredential(ctx context.Context, subjectID string, credentialID []byte) (*store.Credential, error)
	ListCredentials(ctx context.Context, subjectID string) ([]*store.Credential, error)
	UpdateCredentialSignCount(ctx context.Context, subjectID string, credentialID []byte, signCount uint32) error
}

// Result is the outcome of a registration completion. Expected
// verification failures are reported here, not raised as errors.
type Result struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// AuthResult is the outcome of an authentication completion. A verified
// result carries the freshly minted hardware-verified session.
type AuthResult struct {
	Verified bool     `json:"verified"`
	Reason   string   `json:"reason,omitempty"`
	Session  *Session `json:"-"`
}

// Engine runs the two credential ceremonies. Challenges live in the
// cache keyed per (subject, purpose), so a second begin for the same
// purpose supersedes the first.
type Engine struct {
	web    *webauthn.WebAuthn
	creds  CredentialStore
	cache  *cache.Cache
	audit  *audit.Recorder
	logger *slog.Logger
}

// NewEngine creates a ceremony engine for the given relying party.
func NewEngine(rpID, rpDisplayName string, rpOrigins []string, creds CredentialStore, c *cache.Cache, rec *audit.Recorder, logger *slog.Logger) (*Engine, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return &Engine{
		web:    web,
		creds:  creds,
		cache:  c,
		audit:  rec,
		logger: logger,
	}, nil
}

// Bounded wrappers around the credential store. Every store call in a
// ceremony carries a deadline so resolution fails closed on a hang.

func (e *Engine) listCredentials(ctx context.Context, subjectID string) ([]*store.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return e.creds.ListCredentials(ctx, subjectID)
}

func (e *Engine) getCredential(ctx context.Context, subjectID string, credentialID []byte) (*store.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return e.creds.GetCredential(ctx, subjectID, credentialID)
}

func (e *Engine) createCredential(ctx context.Context, c *store.Credential) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return e.creds.CreateCredential(ctx, c)
}

func (e *Engine) updateSignCount(ctx context.Context, subjectID string, credentialID []byte, signCount uint32) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return e.creds.UpdateCredentialSignCount(ctx, subjectID, credentialID, signCount)
}

func registrationKey(subjectID string) string {
	return "reg/" + subjectID
}

func authenticationKey(subjectID string) string {
	return "authn/" + subjectID
}

// BeginRegistration issues ceremony parameters for binding a new
// credential: a fresh challenge, the subject's existing credential ids
// as exclusions, and a policy requiring user verification.
func (e *Engine) BeginRegistration(ctx context.Context, identity *store.Identity) (*protocol.CredentialCreation, error) {
	existing, err := e.listCredentials(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	user := &ceremonyUser{identity: identity, creds: existing}
	options, session, err := e.web.BeginRegistration(user,
		webauthn.WithExclusions(user.descriptors()),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationRequired,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	// Put supersedes any prior challenge for this subject.
	e.cache.Put(registrationKey(identity.ID), session, challengeTTL)
	return options, nil
}

// FinishRegistration verifies an attestation response against the
// stored challenge and persists the new credential. Expected failures
// come back as a non-verified Result; errors are infrastructure only.
func (e *Engine) FinishRegistration(ctx context.Context, identity *store.Identity, response io.Reader) (*Result, error) {
	raw, ok := e.cache.Take(registrationKey(identity.ID))
	if !ok {
		return e.failRegistration(ctx, identity, ReasonChallengeExpired), nil
	}
	session := raw.(*webauthn.SessionData)

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		e.logger.Debug("registration response parse failed", "subject", identity.ID, "error", err)
		return e.failRegistration(ctx, identity, ReasonMalformedResponse), nil
	}

	existing, err := e.listCredentials(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	user := &ceremonyUser{identity: identity, creds: existing}

	cred, err := e.web.CreateCredential(user, *session, parsed)
	if err != nil {
		e.logger.Debug("attestation verification failed", "subject", identity.ID, "error", err)
		return e.failRegistration(ctx, identity, ReasonVerificationFail), nil
	}
	if !cred.Flags.UserVerified {
		return e.failRegistration(ctx, identity, ReasonNoUserVerify), nil
	}

	transports, _ := json.Marshal(cred.Transport)
	record := &store.Credential{
		SubjectID:       identity.ID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      string(transports),
		SignCount:       cred.Authenticator.SignCount,
		DeviceClass:     deviceClassFor(cred.Transport),
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.createCredential(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateCredential) {
			return e.failRegistration(ctx, identity, ReasonDuplicate), nil
		}
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	obs.Ceremonies.WithLabelValues("registration", "verified").Inc()
	e.audit.Log(ctx, &store.AuditEvent{
		SubjectID:    identity.ID,
		Action:       store.AuditCredentialRegister,
		ResourceType: "credential",
		Detail: map[string]any{
			"deviceClass": string(record.DeviceClass),
		},
		Tier: store.TierMedium,
	})
	e.logger.Info("credential registered", "subject", identity.ID, "device_class", record.DeviceClass)
	return &Result{Verified: true}, nil
}

// BeginAuthentication issues an assertion challenge scoped to the
// subject's registered credentials.
func (e *Engine) BeginAuthentication(ctx context.Context, identity *store.Identity) (*protocol.CredentialAssertion, error) {
	existing, err := e.listCredentials(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	if len(existing) == 0 {
		return nil, ErrNoCredentials
	}

	user := &ceremonyUser{identity: identity, creds: existing}
	options, session, err := e.web.BeginLogin(user,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("begin authentication: %w", err)
	}

	e.cache.Put(authenticationKey(identity.ID), session, challengeTTL)
	return options, nil
}

// ErrNoCredentials is returned when a subject with no registered
// credentials asks for an authentication challenge.
var ErrNoCredentials = errors.New("subject has no registered credentials")

// FinishAuthentication verifies an assertion response. The referenced
// credential must be bound to this subject and its reported counter must
// strictly exceed the stored one; anything else fails closed. A verified
// result mints a hardware-verified session.
func (e *Engine) FinishAuthentication(ctx context.Context, identity *store.Identity, response io.Reader, remoteAddr string) (*AuthResult, error) {
	raw, ok := e.cache.Take(authenticationKey(identity.ID))
	if !ok {
		return e.failAuthentication(ctx, identity, ReasonChallengeExpired, remoteAddr), nil
	}
	session := raw.(*webauthn.SessionData)

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		e.logger.Debug("authentication response parse failed", "subject", identity.ID, "error", err)
		return e.failAuthentication(ctx, identity, ReasonMalformedResponse, remoteAddr), nil
	}

	stored, err := e.getCredential(ctx, identity.ID, parsed.RawID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Never fall through to other subjects' credentials.
			return e.failAuthentication(ctx, identity, ReasonUnknownCredential, remoteAddr), nil
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}

	all, err := e.listCredentials(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	user := &ceremonyUser{identity: identity, creds: all}

	cred, err := e.web.ValidateLogin(user, *session, parsed)
	if err != nil {
		e.logger.Debug("assertion verification failed", "subject", identity.ID, "error", err)
		return e.failAuthentication(ctx, identity, ReasonVerificationFail, remoteAddr), nil
	}

	reported := cred.Authenticator.SignCount
	if !counterAdvanced(stored.SignCount, reported) {
		return e.suspectClone(ctx, identity, stored, reported, remoteAddr), nil
	}
	if err := e.updateSignCount(ctx, identity.ID, stored.CredentialID, reported); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A concurrent authentication already consumed this counter value.
			return e.suspectClone(ctx, identity, stored, reported, remoteAddr), nil
		}
		return nil, fmt.Errorf("update sign count: %w", err)
	}

	sess, err := e.mintSession(identity.ID, stored.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("mint session: %w", err)
	}

	obs.Ceremonies.WithLabelValues("authentication", "verified").Inc()
	e.audit.Log(ctx, &store.AuditEvent{
		SubjectID:    identity.ID,
		Action:       store.AuditCeremonyVerified,
		ResourceType: "session",
		Detail: map[string]any{
			"signCount": reported,
		},
		Tier:       store.TierHigh,
		RemoteAddr: remoteAddr,
	})
	e.logger.Info("authentication ceremony verified", "subject", identity.ID)
	return &AuthResult{Verified: true, Session: sess}, nil
}

// counterAdvanced reports whether the authenticator's counter strictly
// exceeds the stored value. Equal counters fail: a stuck counter on
// authentication is indistinguishable from a clone replay.
func counterAdvanced(stored, reported uint32) bool {
	return reported > stored
}

// deviceClassFor maps authenticator transports to a device class. An
// internal transport means a platform authenticator.
func deviceClassFor(transports []protocol.AuthenticatorTransport) store.DeviceClass {
	for _, t := range transports {
		if t == protocol.Internal {
			return store.DevicePlatform
		}
	}
	return store.DeviceCrossPlatform
}

func (e *Engine) failRegistration(ctx context.Context, identity *store.Identity, reason string) *Result {
	obs.Ceremonies.WithLabelValues("registration", "failed").Inc()
	e.audit.Log(ctx, &store.AuditEvent{
		SubjectID:    identity.ID,
		Action:       store.AuditCeremonyFailed,
		ResourceType: "credential",
		Detail:       map[string]any{"ceremony": "registration", "reason": reason},
		Tier:         store.TierMedium,
	})
	return &Result{Verified: false, Reason: reason}
}

func (e *Engine) failAuthentication(ctx context.Context, identity *store.Identity, reason, remoteAddr string) *AuthResult {
	obs.Ceremonies.WithLabelValues("authentication", "failed").Inc()
	e.audit.Log(ctx, &store.AuditEvent{
		SubjectID:    identity.ID,
		Action:       store.AuditCeremonyFailed,
		ResourceType: "session",
		Detail:       map[string]any{"ceremony": "authentication", "reason": reason},
		Tier:         store.TierMedium,
		RemoteAddr:   remoteAddr,
	})
	return &AuthResult{Verified: false, Reason: reason}
}

// suspectClone records a counter that failed to advance as a critical
// cloning indicator and fails the ceremony.
func (e *Engine) suspectClone(ctx context.Context, identity *store.Identity, stored *store.Credential, reported uint32, remoteAddr string) *AuthResult {
	obs.Ceremonies.WithLabelValues("authentication", "clone_suspected").Inc()
	e.audit.Log(ctx, &store.AuditEvent{
		SubjectID:    identity.ID,
		Action:       store.AuditCloneSuspected,
		ResourceType: "credential",
		Detail: map[string]any{
			"storedCount":   stored.SignCount,
			"reportedCount": reported,
		},
		Tier:       store.TierCritical,
		RemoteAddr: remoteAddr,
	})
	e.logger.Warn("credential counter regression",
		"subject", identity.ID,
		"stored_count", stored.SignCount,
		"reported_count", reported)
	return &AuthResult{Verified: false, Reason: ReasonCounterRegression}
}
