// ABOUTME: Production stub for the development token strategy
// ABOUTME: Without the devtokens build tag no token shape bypasses verification

//go:build !devtokens

package auth

// resolveDevToken never matches in production builds; every token goes
// through signature verification.
func resolveDevToken(string) (string, bool) {
	return "", false
}
