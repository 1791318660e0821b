// ABOUTME: Unit tests for the audit recorder
// ABOUTME: Covers retention tiers, detached writes, critical alerting and trail reads

package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vaultgate/vaultgate/internal/store"
)

// memEventStore collects appended events in memory.
type memEventStore struct {
	mu     sync.Mutex
	events []*store.AuditEvent
	err    error
}

func (m *memEventStore) AppendAuditEvent(_ context.Context, e *store.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memEventStore) AuditTrail(_ context.Context, subjectID string, limit int) ([]*store.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.AuditEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].SubjectID == subjectID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *memEventStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// recordingNotifier captures delivered alerts.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRetentionFor(t *testing.T) {
	tests := []struct {
		tier store.RiskTier
		want time.Duration
	}{
		{store.TierLow, 30 * 24 * time.Hour},
		{store.TierMedium, 365 * 24 * time.Hour},
		{store.TierHigh, 3 * 365 * 24 * time.Hour},
		{store.TierCritical, 7 * 365 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := RetentionFor(tt.tier); got != tt.want {
			t.Errorf("RetentionFor(%s) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestLog_AssignsIDAndExpiry(t *testing.T) {
	ms := &memEventStore{}
	r := NewRecorder(ms, nil, time.Second, slog.Default())

	r.Log(context.Background(), &store.AuditEvent{
		SubjectID: "s", Action: store.AuditLogin, Tier: store.TierMedium,
	})

	waitFor(t, func() bool { return ms.count() == 1 })

	e := ms.events[0]
	if e.ID == "" {
		t.Error("event id should be assigned")
	}
	if e.ExpiresAt.Sub(e.Timestamp) != 365*24*time.Hour {
		t.Errorf("retention = %v, want 1y for medium", e.ExpiresAt.Sub(e.Timestamp))
	}
}

func TestLog_DetachedWriteSurvivesRequestCancellation(t *testing.T) {
	ms := &memEventStore{}
	r := NewRecorder(ms, nil, time.Second, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	r.Log(ctx, &store.AuditEvent{SubjectID: "s", Action: store.AuditLogout, Tier: store.TierLow})
	cancel() // request teardown must not cancel the audit write

	waitFor(t, func() bool { return ms.count() == 1 })
}

func TestLog_NonCriticalFailureDoesNotPropagate(t *testing.T) {
	ms := &memEventStore{err: errors.New("store down")}
	r := NewRecorder(ms, nil, time.Second, slog.Default())

	// Must not panic or block
	r.Log(context.Background(), &store.AuditEvent{SubjectID: "s", Action: store.AuditLogin, Tier: store.TierLow})
	time.Sleep(20 * time.Millisecond)
}

func TestLog_CriticalIsSynchronousAndAlerts(t *testing.T) {
	ms := &memEventStore{}
	n := &recordingNotifier{}
	r := NewRecorder(ms, n, time.Second, slog.Default())

	r.Log(context.Background(), &store.AuditEvent{
		SubjectID: "s", Action: store.AuditCloneSuspected, Tier: store.TierCritical,
	})

	// No waiting: critical writes complete before Log returns
	if ms.count() != 1 {
		t.Fatalf("critical event not persisted synchronously")
	}
	if len(n.messages) != 1 {
		t.Fatalf("critical event not alerted")
	}
	if e := ms.events[0]; e.ExpiresAt.Sub(e.Timestamp) != 7*365*24*time.Hour {
		t.Errorf("retention = %v, want 7y for critical", e.ExpiresAt.Sub(e.Timestamp))
	}
}

func TestTrail(t *testing.T) {
	ms := &memEventStore{}
	r := NewRecorder(ms, nil, time.Second, slog.Default())

	r.Log(context.Background(), &store.AuditEvent{SubjectID: "s", Action: store.AuditLogin, Tier: store.TierCritical})
	r.Log(context.Background(), &store.AuditEvent{SubjectID: "s", Action: store.AuditStepUpForced, Tier: store.TierCritical})

	trail, err := r.Trail(context.Background(), "s", 10)
	if err != nil {
		t.Fatalf("Trail() error = %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(trail))
	}
	if trail[0].Action != store.AuditStepUpForced {
		t.Errorf("trail should be most recent first, got %s", trail[0].Action)
	}
}

// deadlineEventStore records whether the trail query carried a deadline.
type deadlineEventStore struct {
	memEventStore
	sawDeadline bool
}

func (d *deadlineEventStore) AuditTrail(ctx context.Context, subjectID string, limit int) ([]*store.AuditEvent, error) {
	_, d.sawDeadline = ctx.Deadline()
	return d.memEventStore.AuditTrail(ctx, subjectID, limit)
}

func TestTrail_QueryIsBounded(t *testing.T) {
	ds := &deadlineEventStore{}
	r := NewRecorder(ds, nil, time.Second, slog.Default())

	if _, err := r.Trail(context.Background(), "s", 10); err != nil {
		t.Fatalf("Trail() error = %v", err)
	}
	if !ds.sawDeadline {
		t.Error("trail query ran without a deadline")
	}
}
