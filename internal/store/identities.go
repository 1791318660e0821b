// ABOUTME: Identity store methods for per-request identity loading
// ABOUTME: Lookups by id, by (id, tenant) and by email within a tenant

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateIdentity persists a new identity. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, i *Identity) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.Role == "" {
		i.Role = RoleUser
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, tenant_id, email, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.TenantID, i.Email, string(i.Role), i.PasswordHash, i.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// GetIdentity looks up an identity by id, regardless of tenant.
// Used for admin routes where the tenant claim is not cross-checked.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, role, password_hash, created_at
		FROM identities WHERE id = ?`, id))
}

// GetIdentityInTenant looks up an identity scoped to a tenant.
// An identity belonging to a different tenant is not found.
func (s *SQLiteStore) GetIdentityInTenant(ctx context.Context, id, tenantID string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, role, password_hash, created_at
		FROM identities WHERE id = ? AND tenant_id = ?`, id, tenantID))
}

// GetIdentityByEmail looks up an identity by email within a tenant.
// Used by the password login path.
func (s *SQLiteStore) GetIdentityByEmail(ctx context.Context, email, tenantID string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, role, password_hash, created_at
		FROM identities WHERE email = ? AND tenant_id = ?`, email, tenantID))
}

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var i Identity
	var role string
	err := row.Scan(&i.ID, &i.TenantID, &i.Email, &role, &i.PasswordHash, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning identity: %w", err)
	}
	i.Role = Role(role)
	return &i, nil
}
