// ABOUTME: Thin banking operation handlers sitting behind the step-up guard
// ABOUTME: Each records an operation-result audit event after the guard admits it

package api

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/store"
)

// Account is a demo ledger entry owned by a subject.
type Account struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// accountBook is the in-memory demo ledger. Real account storage lives
// outside this subsystem; the book exists so the guarded routes have
// observable effects.
type accountBook struct {
	mu       sync.Mutex
	accounts map[string][]Account
}

func newAccountBook() *accountBook {
	return &accountBook{accounts: make(map[string][]Account)}
}

func (b *accountBook) add(subjectID string, a Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[subjectID] = append(b.accounts[subjectID], a)
}

func (b *accountBook) list(subjectID string) []Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Account, len(b.accounts[subjectID]))
	copy(out, b.accounts[subjectID])
	return out
}

type transferRequest struct {
	Amount      *int64 `json:"amount"`
	Destination string `json:"destination"`
}

type operationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil || *req.Amount <= 0 || req.Destination == "" {
		httpx.WriteError(w, http.StatusBadRequest, "amount and destination are required", "")
		return
	}

	id := uuid.NewString()
	s.recordOperation(r, ac.Identity.ID, "transfer", id, map[string]any{
		"amountMinor": *req.Amount,
		"destination": req.Destination,
	})
	httpx.WriteJSON(w, http.StatusOK, operationResponse{ID: id, Status: "completed"})
}

type withdrawalRequest struct {
	Amount *int64 `json:"amount"`
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil || *req.Amount <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "a positive amount is required", "")
		return
	}

	id := uuid.NewString()
	s.recordOperation(r, ac.Identity.ID, "withdrawal", id, map[string]any{
		"amountMinor": *req.Amount,
	})
	httpx.WriteJSON(w, http.StatusOK, operationResponse{ID: id, Status: "completed"})
}

type accountCreateRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleAccountCreate(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req accountCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		httpx.WriteError(w, http.StatusBadRequest, "an account type is required", "")
		return
	}

	account := Account{
		ID:        uuid.NewString(),
		Number:    internalAccountNumber(),
		Type:      req.Type,
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}
	s.accounts.add(ac.Identity.ID, account)
	s.recordOperation(r, ac.Identity.ID, "account", account.ID, map[string]any{
		"accountType": req.Type,
		"number":      account.Number,
	})
	httpx.WriteJSON(w, http.StatusCreated, account)
}

func (s *Server) handleAccountList(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, s.accounts.list(ac.Identity.ID))
}

type loanRequest struct {
	Amount     *int64 `json:"amount"`
	TermMonths int    `json:"termMonths"`
}

func (s *Server) handleLoanApply(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil || *req.Amount <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "a positive amount is required", "")
		return
	}

	id := uuid.NewString()
	s.recordOperation(r, ac.Identity.ID, "loan", id, map[string]any{
		"amountMinor": *req.Amount,
		"termMonths":  req.TermMonths,
	})
	httpx.WriteJSON(w, http.StatusOK, operationResponse{ID: id, Status: "pending_review"})
}

// recordOperation emits the operation-result audit event after the
// handler has done its work.
func (s *Server) recordOperation(r *http.Request, subjectID, resourceType, resourceID string, detail map[string]any) {
	s.audit.Log(r.Context(), &store.AuditEvent{
		SubjectID:    subjectID,
		Action:       store.AuditOperationResult,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       detail,
		Tier:         store.TierMedium,
		RemoteAddr:   httpx.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// internalAccountNumber mints an account number matching the in-house
// pattern recognized by the step-up policy.
func internalAccountNumber() string {
	return fmt.Sprintf("VG%010d", rand.Int64N(10_000_000_000))
}
