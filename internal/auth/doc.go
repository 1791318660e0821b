// Package auth implements the authentication gate.
//
// # Overview
//
// The gate runs after tenant resolution. It extracts a bearer token from
// the Authorization header (or the token cookie), verifies it, cross-checks
// the token's tenant claim against the resolved tenant, and loads a fresh
// identity row for the request. Identity is never cached across requests,
// so role or tenant revocation takes effect immediately.
//
// Failures inside the gate are always a 401 (403 only for a tenant-claim
// mismatch), never a 500: the response must not distinguish a malformed
// token from a missing identity.
//
// The development token strategy lives behind the devtokens build tag and
// is unreachable in production binaries.
package auth
