// ABOUTME: Tests for the step-up guard middleware around sensitive routes
// ABOUTME: Covers challenge issuance, proof verification, replay, and body preservation

package stepup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/vaultgate/vaultgate/internal/audit"
	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/cache"
	"github.com/vaultgate/vaultgate/internal/ceremony"
	"github.com/vaultgate/vaultgate/internal/store"
)

// fakeVerifier is a canned ceremony engine.
type fakeVerifier struct {
	beginErr   error
	result     *ceremony.AuthResult
	finishErr  error
	seenBodies []string
}

func (f *fakeVerifier) BeginAuthentication(_ context.Context, _ *store.Identity) (*protocol.CredentialAssertion, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &protocol.CredentialAssertion{}, nil
}

func (f *fakeVerifier) FinishAuthentication(_ context.Context, _ *store.Identity, response io.Reader, _ string) (*ceremony.AuthResult, error) {
	b, _ := io.ReadAll(response)
	f.seenBodies = append(f.seenBodies, string(b))
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	return f.result, nil
}

type recordingEventStore struct {
	mu     sync.Mutex
	events []*store.AuditEvent
}

func (r *recordingEventStore) AppendAuditEvent(_ context.Context, e *store.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEventStore) AuditTrail(_ context.Context, _ string, _ int) ([]*store.AuditEvent, error) {
	return nil, nil
}

func (r *recordingEventStore) hasAction(action store.AuditAction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Action == action {
			return true
		}
	}
	return false
}

func testGuard(t *testing.T, verifier *fakeVerifier) (*Guard, *cache.Cache, *recordingEventStore) {
	t.Helper()
	c := cache.New()
	t.Cleanup(c.Close)
	events := &recordingEventStore{}
	rec := audit.NewRecorder(events, nil, time.Second, slog.Default())
	return NewGuard(DefaultPolicy(), verifier, c, rec, slog.Default()), c, events
}

func authedRequest(method, path, body string, role store.Role) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:4411"
	ac := &auth.AuthContext{Identity: &store.Identity{ID: "subj-1", Email: "t@b.example", Role: role}}
	return req.WithContext(auth.WithAuth(req.Context(), ac))
}

// echoHandler records the body it received so tests can assert the
// business payload survived the guard.
type echoHandler struct {
	called bool
	body   string
}

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	h.called = true
	h.body = string(b)
	w.WriteHeader(http.StatusOK)
}

func TestProtect_LowRiskProceedsWithBodyIntact(t *testing.T) {
	guard, _, events := testGuard(t, &fakeVerifier{})
	handler := &echoHandler{}
	body := `{"amount":5000,"destination":"VG0000000001"}`

	rec := httptest.NewRecorder()
	guard.Protect(KindTransfer, handler).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/transfer", body, store.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !handler.called {
		t.Fatal("handler should run for a low-risk operation")
	}
	if handler.body != body {
		t.Errorf("handler body = %q, want original payload", handler.body)
	}

	waitForAudit(t, events, store.AuditStepUpSkipped)
}

func TestProtect_HighValueIssuesChallenge(t *testing.T) {
	guard, c, events := testGuard(t, &fakeVerifier{})
	handler := &echoHandler{}
	body := `{"amount":150000,"destination":"VG0000000001"}`

	rec := httptest.NewRecorder()
	guard.Protect(KindTransfer, handler).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/transfer", body, store.RoleUser))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if handler.called {
		t.Fatal("handler must not run before verification")
	}

	var resp struct {
		Code          string          `json:"code"`
		Challenge     json.RawMessage `json:"challenge"`
		CorrelationID string          `json:"correlationId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "STEP_UP_REQUIRED" {
		t.Errorf("code = %q, want STEP_UP_REQUIRED", resp.Code)
	}
	if len(resp.Challenge) == 0 {
		t.Error("expected an embedded ceremony challenge")
	}
	if resp.CorrelationID == "" {
		t.Fatal("expected a correlation id")
	}

	subject, ok := c.Get(correlationKey(resp.CorrelationID))
	if !ok || subject != "subj-1" {
		t.Error("correlation id should be cached against the caller")
	}
	waitForAudit(t, events, store.AuditStepUpForced)
}

func TestProtect_VerifiedEvidenceProceedsOnce(t *testing.T) {
	verifier := &fakeVerifier{result: &ceremony.AuthResult{Verified: true}}
	guard, c, events := testGuard(t, verifier)
	handler := &echoHandler{}
	body := `{"amount":150000,"destination":"VG0000000001"}`

	c.Put(correlationKey("corr-1"), "subj-1", time.Minute)

	req := authedRequest(http.MethodPost, "/api/transfer", body, store.RoleUser)
	req.Header.Set(HeaderResponse, base64.StdEncoding.EncodeToString([]byte(`{"assertion":true}`)))
	req.Header.Set(HeaderCorrelation, "corr-1")

	rec := httptest.NewRecorder()
	guard.Protect(KindTransfer, handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if handler.body != body {
		t.Errorf("handler body = %q, want original payload", handler.body)
	}
	if len(verifier.seenBodies) != 1 || verifier.seenBodies[0] != `{"assertion":true}` {
		t.Errorf("verifier saw %v, want the decoded assertion", verifier.seenBodies)
	}
	waitForAudit(t, events, store.AuditStepUpVerified)

	// Replaying the same correlation id must fail: it was consumed.
	handler.called = false
	req = authedRequest(http.MethodPost, "/api/transfer", body, store.RoleUser)
	req.Header.Set(HeaderResponse, base64.StdEncoding.EncodeToString([]byte(`{"assertion":true}`)))
	req.Header.Set(HeaderCorrelation, "corr-1")

	rec = httptest.NewRecorder()
	guard.Protect(KindTransfer, handler).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rec.Code)
	}
	if handler.called {
		t.Error("handler must not run on a replayed correlation id")
	}
}

func TestProtect_FailedVerificationIsCritical(t *testing.T) {
	verifier := &fakeVerifier{result: &ceremony.AuthResult{Verified: false, Reason: ceremony.ReasonCounterRegression}}
	guard, c, events := testGuard(t, verifier)
	handler := &echoHandler{}

	c.Put(correlationKey("corr-1"), "subj-1", time.Minute)

	req := authedRequest(http.MethodPost, "/api/transfer", `{"amount":150000,"destination":"VG0000000001"}`, store.RoleUser)
	req.Header.Set(HeaderResponse, base64.StdEncoding.EncodeToString([]byte(`{}`)))
	req.Header.Set(HeaderCorrelation, "corr-1")

	rec := httptest.NewRecorder()
	guard.Protect(KindTransfer, handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if handler.called {
		t.Error("handler must not run on failed verification")
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	found := false
	for _, e := range events.events {
		if e.Action == store.AuditStepUpFailed {
			found = true
			if e.Tier != store.TierCritical {
				t.Errorf("tier = %q, want critical", e.Tier)
			}
		}
	}
	if !found {
		t.Error("expected a step_up_failed audit event")
	}
}

func TestProtect_CorrelationForOtherSubjectFails(t *testing.T) {
	verifier := &fakeVerifier{result: &ceremony.AuthResult{Verified: true}}
	guard, c, _ := testGuard(t, verifier)
	handler := &echoHandler{}

	c.Put(correlationKey("corr-1"), "someone-else", time.Minute)

	req := authedRequest(http.MethodPost, "/api/transfer", `{"amount":150000,"destination":"VG0000000001"}`, store.RoleUser)
	req.Header.Set(HeaderResponse, base64.StdEncoding.EncodeToString([]byte(`{}`)))
	req.Header.Set(HeaderCorrelation, "corr-1")

	rec := httptest.NewRecorder()
	guard.Protect(KindTransfer, handler).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if len(verifier.seenBodies) != 0 {
		t.Error("verifier must not run for a stolen correlation id")
	}
}

func TestProtect_NoCredentialsYields403WithoutChallenge(t *testing.T) {
	guard, _, _ := testGuard(t, &fakeVerifier{beginErr: ceremony.ErrNoCredentials})
	handler := &echoHandler{}

	rec := httptest.NewRecorder()
	guard.Protect(KindLoan, handler).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/loans", `{"amount":100}`, store.RoleUser))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp struct {
		Code          string `json:"code"`
		CorrelationID string `json:"correlationId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "STEP_UP_REQUIRED" || resp.CorrelationID != "" {
		t.Errorf("resp = %+v, want STEP_UP_REQUIRED with no correlation id", resp)
	}
}

func TestProtect_AdminAlwaysStepsUp(t *testing.T) {
	guard, _, _ := testGuard(t, &fakeVerifier{})
	handler := &echoHandler{}

	rec := httptest.NewRecorder()
	guard.Protect(KindWithdrawal, handler).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/withdrawals", `{"amount":100}`, store.RoleAdmin))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for an admin caller", rec.Code)
	}
	if handler.called {
		t.Error("handler must not run")
	}
}

// waitForAudit polls for a detached audit write.
func waitForAudit(t *testing.T, events *recordingEventStore, action store.AuditAction) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if events.hasAction(action) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("audit event %s never arrived", action)
}
