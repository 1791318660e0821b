// ABOUTME: Hardware-verified session records minted by successful authentication ceremonies
// ABOUTME: Lazy TTL enforcement with a sliding last-activity bump under a fixed absolute expiry

package ceremony

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// ProofHardwareVerified is the proof level carried by sessions minted
// through a completed authentication ceremony.
const ProofHardwareVerified = "hardware-verified"

// Session is a live post-ceremony session. LastActivity slides on each
// use; ExpiresAt is absolute and never extends.
type Session struct {
	Token        string    `json:"token"`
	SubjectID    string    `json:"subjectId"`
	ProofLevel   string    `json:"proofLevel"`
	CredentialID []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func sessionKey(token string) string {
	return "session/" + token
}

func (e *Engine) mintSession(subjectID string, credentialID []byte) (*Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &Session{
		Token:        hex.EncodeToString(b),
		SubjectID:    subjectID,
		ProofLevel:   ProofHardwareVerified,
		CredentialID: credentialID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(sessionTTL),
	}
	e.cache.Put(sessionKey(sess.Token), sess, sessionTTL)
	return sess, nil
}

// Session looks up a live session by token, enforcing the absolute
// expiry at read time and bumping last-activity. The boolean is false
// for unknown or expired tokens.
func (e *Engine) Session(token string) (*Session, bool) {
	raw, ok := e.cache.Get(sessionKey(token))
	if !ok {
		return nil, false
	}
	sess := raw.(*Session)
	now := time.Now().UTC()
	if now.After(sess.ExpiresAt) {
		e.cache.Delete(sessionKey(token))
		return nil, false
	}

	// Re-store a bumped copy; the remaining TTL keeps the absolute
	// expiry fixed.
	bumped := *sess
	bumped.LastActivity = now
	e.cache.Put(sessionKey(token), &bumped, time.Until(sess.ExpiresAt))
	return &bumped, true
}

// EndSession destroys a session on explicit logout. Ending an unknown
// token is a no-op.
func (e *Engine) EndSession(token string) {
	e.cache.Delete(sessionKey(token))
}
