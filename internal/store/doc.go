// Package store provides persistence for vaultgate.
//
// # Overview
//
// A single SQLite database holds tenants, identities, hardware credentials
// and the append-only audit log. Consumers declare their own narrow
// interfaces over the methods they use; SQLiteStore satisfies all of them.
//
// Credentials are keyed by (subject id, credential id) and their sign
// counter only ever moves forward. Audit events carry a retention expiry
// derived from their risk tier and are excluded from reads once expired,
// independent of when the purge actually runs.
package store
