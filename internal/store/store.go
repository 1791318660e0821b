// ABOUTME: Store data types for vaultgate persistence
// ABOUTME: Defines Tenant, Identity, Credential, AuditEvent and shared errors

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCredential is returned when a credential id is already bound to the subject
var ErrDuplicateCredential = errors.New("credential already registered")

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusInactive  TenantStatus = "inactive"
)

// Tenant represents an isolated customer of the platform.
// Requests are only processed for tenants with status active.
type Tenant struct {
	ID           string
	Name         string
	Subdomain    string
	CustomDomain string
	Status       TenantStatus
	Tier         string
	Settings     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is the authorization role of an identity
type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleBusiness Role = "business"
)

// Identity represents an authenticated subject. TenantID is nil for
// platform-level administrators. Identities are loaded fresh on every
// request so revocation takes effect immediately.
type Identity struct {
	ID           string
	TenantID     *string
	Email        string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// DeviceClass indicates the attachment class of an authenticator
type DeviceClass string

const (
	DevicePlatform      DeviceClass = "platform"
	DeviceCrossPlatform DeviceClass = "cross-platform"
)

// Credential is a hardware-backed public-key credential bound to a subject.
// SignCount is monotonically non-decreasing; a counter that fails to advance
// on authentication is treated as a cloning indicator.
type Credential struct {
	SubjectID       string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string
	SignCount       uint32
	DeviceClass     DeviceClass
	CreatedAt       time.Time
}

// RiskTier classifies audit events for retention and alerting
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// AuditAction represents an auditable security-relevant action.
type AuditAction string

const (
	AuditLogin              AuditAction = "login"
	AuditLoginFailed        AuditAction = "login_failed"
	AuditLogout             AuditAction = "logout"
	AuditCredentialRegister AuditAction = "credential_register"
	AuditCeremonyVerified   AuditAction = "ceremony_verified"
	AuditCeremonyFailed     AuditAction = "ceremony_failed"
	AuditCloneSuspected     AuditAction = "credential_clone_suspected"
	AuditStepUpForced       AuditAction = "step_up_forced"
	AuditStepUpVerified     AuditAction = "step_up_verified"
	AuditStepUpFailed       AuditAction = "step_up_failed"
	AuditStepUpSkipped      AuditAction = "step_up_skipped"
	AuditOperationResult    AuditAction = "operation_result"
)

// AuditEvent is a single append-only audit record. ExpiresAt is derived
// from the risk tier at write time; rows are never updated or deleted
// before expiry.
type AuditEvent struct {
	ID           string
	SubjectID    string
	Action       AuditAction
	ResourceType string
	ResourceID   string
	Detail       map[string]any
	Tier         RiskTier
	RemoteAddr   string
	UserAgent    string
	Timestamp    time.Time
	ExpiresAt    time.Time
}
