// ABOUTME: Audit trail query endpoint scoped to the caller's own subject
// ABOUTME: Admins may query any subject within the retention window

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/httpx"
)

type auditEventView struct {
	ID           string         `json:"id"`
	SubjectID    string         `json:"subjectId"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	Tier         string         `json:"tier"`
	Timestamp    time.Time      `json:"timestamp"`
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	subjectID := ac.Identity.ID
	if requested := r.URL.Query().Get("subject"); requested != "" && requested != subjectID {
		if !ac.IsAdmin() {
			httpx.WriteError(w, http.StatusForbidden, "cannot query another subject's trail", httpx.CodeAuthorizationDenied)
			return
		}
		subjectID = requested
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = parsed
	}

	events, err := s.audit.Trail(r.Context(), subjectID, limit)
	if err != nil {
		s.logger.Error("audit trail query failed", "subject", subjectID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", httpx.CodeInfrastructure)
		return
	}

	views := make([]auditEventView, len(events))
	for i, e := range events {
		views[i] = auditEventView{
			ID:           e.ID,
			SubjectID:    e.SubjectID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Detail:       e.Detail,
			Tier:         string(e.Tier),
			Timestamp:    e.Timestamp,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}
