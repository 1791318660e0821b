// ABOUTME: Unit tests for the development token strategy (devtokens builds only)
// ABOUTME: Tests token shape parsing and identity id extraction

//go:build devtokens

package auth

import "testing"

func TestResolveDevToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		wantID string
		wantOK bool
	}{
		{name: "valid", token: "dev-token-subject-1-1700000000", wantID: "subject-1", wantOK: true},
		{name: "uuid identity", token: "dev-token-8f14e45f-ceea-467f-9575-1700000000", wantID: "8f14e45f-ceea-467f-9575", wantOK: true},
		{name: "wrong prefix", token: "api-token-subject-1-1700000000", wantOK: false},
		{name: "no timestamp", token: "dev-token-subject-1", wantOK: false},
		{name: "empty id", token: "dev-token--1700000000", wantOK: false},
		{name: "plain jwt", token: "eyJhbGciOiJIUzI1NiJ9.x.y", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := resolveDevToken(tt.token)
			if ok != tt.wantOK {
				t.Fatalf("resolveDevToken() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && id != tt.wantID {
				t.Errorf("resolveDevToken() id = %q, want %q", id, tt.wantID)
			}
		})
	}
}
