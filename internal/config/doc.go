// Package config handles configuration loading for vaultgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Duration fields are written as Go duration strings ("5m", "24h") and parsed
// at load time. Step-up risk thresholds live in a separate TOML policy file
// referenced by stepup.policy_file, so operators can tune product policy
// without touching the service configuration.
package config
