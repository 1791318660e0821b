// ABOUTME: Tenant store methods for host-based tenant resolution
// ABOUTME: Lookups by subdomain or exact custom domain, plus admin creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTenant persists a new tenant. Generates ID and timestamps if not set.
func (s *SQLiteStore) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TenantStatusActive
	}
	if t.Tier == "" {
		t.Tier = "standard"
	}

	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshaling tenant settings: %w", err)
	}
	if t.Settings == nil {
		settings = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, subdomain, custom_domain, status, tier, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Subdomain, t.CustomDomain, string(t.Status), t.Tier, string(settings), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// GetTenantBySubdomain looks up a tenant by its platform subdomain.
func (s *SQLiteStore) GetTenantBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, name, subdomain, custom_domain, status, tier, settings, created_at, updated_at
		FROM tenants WHERE subdomain = ?`, subdomain))
}

// GetTenantByDomain looks up a tenant by an exact custom-domain match.
func (s *SQLiteStore) GetTenantByDomain(ctx context.Context, domain string) (*Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, name, subdomain, custom_domain, status, tier, settings, created_at, updated_at
		FROM tenants WHERE custom_domain = ? AND custom_domain != ''`, domain))
}

// GetTenant looks up a tenant by id.
func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, name, subdomain, custom_domain, status, tier, settings, created_at, updated_at
		FROM tenants WHERE id = ?`, id))
}

// UpdateTenantStatus transitions a tenant's lifecycle state.
func (s *SQLiteStore) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating tenant status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) scanTenant(row *sql.Row) (*Tenant, error) {
	var t Tenant
	var status, settings string
	err := row.Scan(&t.ID, &t.Name, &t.Subdomain, &t.CustomDomain, &status, &t.Tier, &settings, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	t.Status = TenantStatus(status)
	if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling tenant settings: %w", err)
	}
	return &t, nil
}
