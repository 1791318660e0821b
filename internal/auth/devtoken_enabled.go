// ABOUTME: Development token strategy, available only in devtokens builds
// ABOUTME: Tokens of the form dev-token-<identity-id>-<unix-ts> bypass signature checks

//go:build devtokens

package auth

import (
	"strconv"
	"strings"
)

// devTokenPrefix is the fixed literal prefix of development tokens.
const devTokenPrefix = "dev-token-"

// resolveDevToken parses a development token and returns the embedded
// identity id. The trailing segment must be a unix timestamp; everything
// between prefix and timestamp is the identity id.
func resolveDevToken(tok string) (string, bool) {
	if !strings.HasPrefix(tok, devTokenPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(tok, devTokenPrefix)

	idx := strings.LastIndex(rest, "-")
	if idx <= 0 {
		return "", false
	}
	// The trailing segment must look like unix seconds, not a numeric
	// suffix of the identity id itself.
	ts := rest[idx+1:]
	if len(ts) < 10 {
		return "", false
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return "", false
	}
	return rest[:idx], true
}
