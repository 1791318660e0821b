// ABOUTME: Append-only audit event store with retention-tiered expiry
// ABOUTME: Events are never updated; expired rows are purged in bulk

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AppendAuditEvent appends a new event to the audit log. The caller is
// responsible for assigning ID, Timestamp and ExpiresAt (the audit
// recorder owns retention policy).
func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	if e.ID == "" {
		return fmt.Errorf("audit event id is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("marshaling audit detail: %w", err)
	}
	if e.Detail == nil {
		detail = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, subject_id, action, resource_type, resource_id, detail, tier, remote_addr, user_agent, ts, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubjectID, string(e.Action), e.ResourceType, e.ResourceID, string(detail),
		string(e.Tier), e.RemoteAddr, e.UserAgent, e.Timestamp, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// AuditTrail returns a subject's audit events, most recent first.
// Events past their retention expiry are excluded even if not yet purged.
func (s *SQLiteStore) AuditTrail(ctx context.Context, subjectID string, limit int) ([]*AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, action, resource_type, resource_id, detail, tier, remote_addr, user_agent, ts, expires_at
		FROM audit_events
		WHERE subject_id = ? AND expires_at > ?
		ORDER BY ts DESC LIMIT ?`,
		subjectID, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit trail: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var action, detail, tier string
		if err := rows.Scan(&e.ID, &e.SubjectID, &action, &e.ResourceType, &e.ResourceID, &detail, &tier, &e.RemoteAddr, &e.UserAgent, &e.Timestamp, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Action = AuditAction(action)
		e.Tier = RiskTier(tier)
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// PurgeExpiredAuditEvents deletes events past their retention expiry.
// Returns the number of rows removed.
func (s *SQLiteStore) PurgeExpiredAuditEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purging audit events: %w", err)
	}
	return res.RowsAffected()
}
