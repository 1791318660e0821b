// ABOUTME: Configuration loading and parsing for vaultgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete vaultgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tenant    TenantConfig    `yaml:"tenant"`
	WebAuthn  WebAuthnConfig  `yaml:"webauthn"`
	StepUp    StepUpConfig    `yaml:"stepup"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Audit     AuditConfig     `yaml:"audit"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token service configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// TenantConfig holds tenant resolution configuration
type TenantConfig struct {
	// BaseDomain is the platform domain; hosts of the form
	// <subdomain>.<base_domain> resolve tenants by subdomain.
	BaseDomain string `yaml:"base_domain"`
	// DevHosts are host names that bind the synthetic development tenant.
	DevHosts []string `yaml:"dev_hosts"`
}

// WebAuthnConfig holds relying-party configuration for credential ceremonies
type WebAuthnConfig struct {
	RPID          string   `yaml:"rp_id"`
	RPDisplayName string   `yaml:"rp_display_name"`
	RPOrigins     []string `yaml:"rp_origins"`
}

// StepUpConfig holds step-up policy configuration
type StepUpConfig struct {
	// PolicyFile points at a TOML file with risk thresholds.
	// When empty, compiled-in defaults apply.
	PolicyFile string `yaml:"policy_file"`
}

// RateLimitConfig holds per-profile fixed-window rate limits
type RateLimitConfig struct {
	Login    WindowConfig `yaml:"login"`
	Ceremony WindowConfig `yaml:"ceremony"`
	General  WindowConfig `yaml:"general"`
}

// WindowConfig is a single fixed-window limit
type WindowConfig struct {
	Requests  int           `yaml:"requests"`
	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// AuditConfig holds audit recorder configuration
type AuditConfig struct {
	WriteTimeout    time.Duration `yaml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout"`
}

// AlertsConfig holds operational alert channel configuration
type AlertsConfig struct {
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig holds the Matrix alert channel configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	Room        string `yaml:"room"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in defaults for optional sections.
func (c *Config) ApplyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if len(c.Tenant.DevHosts) == 0 {
		c.Tenant.DevHosts = []string{"localhost", "127.0.0.1"}
	}
	if c.WebAuthn.RPID == "" {
		c.WebAuthn.RPID = "localhost"
	}
	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = "vaultgate"
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		c.WebAuthn.RPOrigins = []string{"http://localhost", "https://localhost"}
	}
	if c.RateLimit.Login.Requests == 0 {
		c.RateLimit.Login = WindowConfig{Requests: 5, Window: time.Minute}
	}
	if c.RateLimit.Login.Window == 0 {
		c.RateLimit.Login.Window = time.Minute
	}
	if c.RateLimit.Ceremony.Requests == 0 {
		c.RateLimit.Ceremony = WindowConfig{Requests: 20, Window: time.Minute}
	}
	if c.RateLimit.Ceremony.Window == 0 {
		c.RateLimit.Ceremony.Window = time.Minute
	}
	if c.RateLimit.General.Requests == 0 {
		c.RateLimit.General = WindowConfig{Requests: 100, Window: time.Minute}
	}
	if c.RateLimit.General.Window == 0 {
		c.RateLimit.General.Window = time.Minute
	}
	if c.Audit.WriteTimeout == 0 {
		c.Audit.WriteTimeout = 5 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Alerts.Matrix.Enabled {
		if c.Alerts.Matrix.Homeserver == "" || c.Alerts.Matrix.Room == "" {
			return fmt.Errorf("alerts.matrix requires homeserver and room when enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Audit.WriteTimeoutRaw != "" {
		cfg.Audit.WriteTimeout, err = time.ParseDuration(cfg.Audit.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing audit.write_timeout %q: %w", cfg.Audit.WriteTimeoutRaw, err)
		}
	}

	for _, w := range []struct {
		name string
		cfg  *WindowConfig
	}{
		{"ratelimit.login", &cfg.RateLimit.Login},
		{"ratelimit.ceremony", &cfg.RateLimit.Ceremony},
		{"ratelimit.general", &cfg.RateLimit.General},
	} {
		if w.cfg.WindowRaw == "" {
			continue
		}
		w.cfg.Window, err = time.ParseDuration(w.cfg.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing %s.window %q: %w", w.name, w.cfg.WindowRaw, err)
		}
	}

	return nil
}
