// ABOUTME: Retention-tiered audit recorder with detached best-effort writes
// ABOUTME: Critical events persist synchronously and fan out to the alert channel

package audit

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vaultgate/vaultgate/internal/alert"
	"github.com/vaultgate/vaultgate/internal/store"
)

// Retention periods by risk tier.
const (
	retentionLow      = 30 * 24 * time.Hour
	retentionMedium   = 365 * 24 * time.Hour
	retentionHigh     = 3 * 365 * 24 * time.Hour
	retentionCritical = 7 * 365 * 24 * time.Hour
)

// RetentionFor returns the retention period for a risk tier.
func RetentionFor(tier store.RiskTier) time.Duration {
	switch tier {
	case store.TierLow:
		return retentionLow
	case store.TierMedium:
		return retentionMedium
	case store.TierHigh:
		return retentionHigh
	case store.TierCritical:
		return retentionCritical
	default:
		return retentionMedium
	}
}

// EventStore is the narrow store interface the recorder consumes.
type EventStore interface {
	AppendAuditEvent(ctx context.Context, e *store.AuditEvent) error
	AuditTrail(ctx context.Context, subjectID string, limit int) ([]*store.AuditEvent, error)
}

// Recorder is the append-only audit sink. Non-critical writes are
// detached from the request so they can never block or fail the primary
// response; critical writes are synchronous and mirrored to the alert
// channel.
type Recorder struct {
	store        EventStore
	alerts       alert.Notifier
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewRecorder creates an audit recorder.
func NewRecorder(s EventStore, alerts alert.Notifier, writeTimeout time.Duration, logger *slog.Logger) *Recorder {
	if alerts == nil {
		alerts = alert.Noop{}
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Recorder{
		store:        s,
		alerts:       alerts,
		logger:       logger,
		writeTimeout: writeTimeout,
	}
}

// Log records an audit event. The id, timestamp and retention expiry are
// assigned here. Failure to persist a non-critical event is logged and
// swallowed; a critical event is persisted synchronously and its failure
// is both logged and alerted.
func (r *Recorder) Log(ctx context.Context, e *store.AuditEvent) {
	now := time.Now().UTC()
	e.ID = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	e.Timestamp = now
	e.ExpiresAt = now.Add(RetentionFor(e.Tier))

	if e.Tier == store.TierCritical {
		r.writeCritical(ctx, e)
		return
	}

	// Detach from the request context so response teardown cannot cancel
	// the write, but keep it bounded.
	detached := context.WithoutCancel(ctx)
	go func() {
		writeCtx, cancel := context.WithTimeout(detached, r.writeTimeout)
		defer cancel()
		if err := r.store.AppendAuditEvent(writeCtx, e); err != nil {
			r.logger.Error("audit write failed", "action", e.Action, "subject", e.SubjectID, "error", err)
		}
	}()
}

// writeCritical persists a critical event before the caller proceeds and
// surfaces it on the operational alert channel.
func (r *Recorder) writeCritical(ctx context.Context, e *store.AuditEvent) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.AppendAuditEvent(writeCtx, e); err != nil {
		r.logger.Error("critical audit write failed", "action", e.Action, "subject", e.SubjectID, "error", err)
	}

	msg := fmt.Sprintf("critical security event: %s subject=%s resource=%s/%s", e.Action, e.SubjectID, e.ResourceType, e.ResourceID)
	if err := r.alerts.Notify(writeCtx, msg); err != nil {
		r.logger.Error("critical alert delivery failed", "action", e.Action, "error", err)
	}
}

// Trail returns a subject's audit events, most recent first. The store
// query is bounded so a hung store fails the request instead of
// stalling it.
func (r *Recorder) Trail(ctx context.Context, subjectID string, limit int) ([]*store.AuditEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return r.store.AuditTrail(ctx, subjectID, limit)
}
