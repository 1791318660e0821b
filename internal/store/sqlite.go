// ABOUTME: SQLite implementation of the vaultgate stores using modernc.org/sqlite
// ABOUTME: Provides tenant/identity/credential/audit persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the tenant, identity, credential and audit stores
// on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			subdomain TEXT NOT NULL,
			custom_domain TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'standard',
			settings TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_subdomain
			ON tenants(subdomain);

		CREATE INDEX IF NOT EXISTS idx_tenants_custom_domain
			ON tenants(custom_domain) WHERE custom_domain != '';

		CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			tenant_id TEXT,
			email TEXT NOT NULL,
			role TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_tenant_email
			ON identities(tenant_id, email);

		CREATE TABLE IF NOT EXISTS credentials (
			subject_id TEXT NOT NULL,
			credential_id BLOB NOT NULL,
			public_key BLOB NOT NULL,
			attestation_type TEXT NOT NULL DEFAULT '',
			transports TEXT NOT NULL DEFAULT '',
			sign_count INTEGER NOT NULL DEFAULT 0,
			device_class TEXT NOT NULL DEFAULT 'cross-platform',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (subject_id, credential_id)
		);

		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL DEFAULT '',
			resource_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '{}',
			tier TEXT NOT NULL,
			remote_addr TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			ts DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_subject_ts
			ON audit_events(subject_id, ts DESC);

		CREATE INDEX IF NOT EXISTS idx_audit_expires
			ON audit_events(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
