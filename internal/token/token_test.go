// ABOUTME: Unit tests for bearer token issuing and verification
// ABOUTME: Tests claim round-trips, expiry, bad signatures and malformed input

package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	svc := NewService([]byte("test-secret-key-for-jwt-signing"))

	in := Claims{
		Subject:  "subject-123",
		Email:    "user@acme.example",
		Role:     "user",
		TenantID: "tenant-acme",
	}
	tok, err := svc.Issue(in, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := svc.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.Subject != in.Subject {
		t.Errorf("Subject = %q, want %q", got.Subject, in.Subject)
	}
	if got.Email != in.Email {
		t.Errorf("Email = %q, want %q", got.Email, in.Email)
	}
	if got.Role != in.Role {
		t.Errorf("Role = %q, want %q", got.Role, in.Role)
	}
	if got.TenantID != in.TenantID {
		t.Errorf("TenantID = %q, want %q", got.TenantID, in.TenantID)
	}
	if got.ExpiresAt.Before(time.Now()) {
		t.Error("ExpiresAt should be in the future")
	}
}

func TestVerify_Expired(t *testing.T) {
	svc := NewService([]byte("test-secret-key-for-jwt-signing"))

	tok, err := svc.Issue(Claims{Subject: "subject-123"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = svc.Verify(tok)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	svc := NewService([]byte("secret-a"))
	other := NewService([]byte("secret-b"))

	tok, err := other.Issue(Claims{Subject: "subject-123"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = svc.Verify(tok)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	svc := NewService([]byte("test-secret-key-for-jwt-signing"))

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "three garbage segments", token: "header.payload.signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			if !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Verify() error = %v, want ErrInvalidFormat", err)
			}
		})
	}
}

func TestVerify_MissingSubject(t *testing.T) {
	svc := NewService([]byte("test-secret-key-for-jwt-signing"))

	tok, err := svc.Issue(Claims{Email: "user@acme.example"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = svc.Verify(tok)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

// Secret rotation is a hard cutover: tokens signed with the old secret
// fail verification under the new one.
func TestSecretRotation_Invalidates(t *testing.T) {
	old := NewService([]byte("old-secret"))
	tok, err := old.Issue(Claims{Subject: "subject-123"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rotated := NewService([]byte("new-secret"))
	if _, err := rotated.Verify(tok); err == nil {
		t.Error("Verify() should fail after secret rotation")
	}
}
