// ABOUTME: Adapter exposing a stored identity and its credentials as a webauthn.User
// ABOUTME: Bridges store records into the shapes the go-webauthn library expects

package ceremony

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/vaultgate/vaultgate/internal/store"
)

// ceremonyUser wraps an Identity to implement webauthn.User.
type ceremonyUser struct {
	identity *store.Identity
	creds    []*store.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.identity.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.identity.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.identity.Email
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}

// descriptors returns the subject's credential ids in the form used for
// registration exclusion lists.
func (u *ceremonyUser) descriptors() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, len(u.creds))
	for i, c := range u.creds {
		out[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.CredentialID,
		}
	}
	return out
}
