// ABOUTME: Credential store methods keyed by (subject id, credential id)
// ABOUTME: Sign counter updates are monotonic; rows are never auto-deleted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateCredential persists a new credential bound to a subject.
// Returns ErrDuplicateCredential if the (subject, credential id) pair exists.
func (s *SQLiteStore) CreateCredential(ctx context.Context, c *Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.DeviceClass == "" {
		c.DeviceClass = DeviceCrossPlatform
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (subject_id, credential_id, public_key, attestation_type, transports, sign_count, device_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SubjectID, c.CredentialID, c.PublicKey, c.AttestationType, c.Transports, c.SignCount, string(c.DeviceClass), c.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

// GetCredential looks up a credential by (subject id, credential id).
// A credential id bound to a different subject is not found; lookups
// never fall through to other subjects.
func (s *SQLiteStore) GetCredential(ctx context.Context, subjectID string, credentialID []byte) (*Credential, error) {
	return s.scanCredential(s.db.QueryRowContext(ctx, `
		SELECT subject_id, credential_id, public_key, attestation_type, transports, sign_count, device_class, created_at
		FROM credentials WHERE subject_id = ? AND credential_id = ?`, subjectID, credentialID))
}

// ListCredentials returns all credentials bound to a subject, oldest first.
func (s *SQLiteStore) ListCredentials(ctx context.Context, subjectID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, credential_id, public_key, attestation_type, transports, sign_count, device_class, created_at
		FROM credentials WHERE subject_id = ? ORDER BY created_at ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		var c Credential
		var class string
		if err := rows.Scan(&c.SubjectID, &c.CredentialID, &c.PublicKey, &c.AttestationType, &c.Transports, &c.SignCount, &class, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		c.DeviceClass = DeviceClass(class)
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

// UpdateCredentialSignCount persists the authenticator counter after a
// successful authentication. The update is guarded so the stored counter
// can never move backwards.
func (s *SQLiteStore) UpdateCredentialSignCount(ctx context.Context, subjectID string, credentialID []byte, signCount uint32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET sign_count = ?
		WHERE subject_id = ? AND credential_id = ? AND sign_count < ?`,
		signCount, subjectID, credentialID, signCount)
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
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

func (s *SQLiteStore) scanCredential(row *sql.Row) (*Credential, error) {
	var c Credential
	var class string
	err := row.Scan(&c.SubjectID, &c.CredentialID, &c.PublicKey, &c.AttestationType, &c.Transports, &c.SignCount, &class, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}
	c.DeviceClass = DeviceClass(class)
	return &c, nil
}
