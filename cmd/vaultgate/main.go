// ABOUTME: Entry point for the vaultgate authentication and transaction-risk gateway
// ABOUTME: Subcommands for serving, first-run bootstrap, config init, and health checks

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultgate/vaultgate/internal/api"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/store"
	"github.com/vaultgate/vaultgate/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _ _              _
__   ____ _ _   _| | |_ __ _  __ _| |_ ___
\ \ / / _' | | | | | __/ _' |/ _' | __/ _ \
 \ V / (_| | |_| | | || (_| | (_| | ||  __/
  \_/ \__,_|\__,_|_|\__\__, |\__,_|\__\___|
                       |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: VAULTGATE_CONFIG env var > XDG_CONFIG_HOME/vaultgate/gateway.yaml > ~/.config/vaultgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VAULTGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "vaultgate", "gateway.yaml")
}

// getDataPath returns the path to the vaultgate data directory.
// Priority: XDG_DATA_HOME/vaultgate > ~/.local/share/vaultgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "vaultgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: vaultgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the gateway server")
		fmt.Println("  init                         Create a new config file interactively")
		fmt.Println("  bootstrap --tenant NAME \\")
		fmt.Println("            --subdomain SUB \\")
		fmt.Println("            --email EMAIL      Create the first tenant and admin identity")
		fmt.Println("  health                       Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:     %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Tenants:  *.%s\n", cfg.Tenant.BaseDomain)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting vaultgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	server, err := api.NewServer(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpLn, cleanup, err := createHTTPListener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Serve(httpLn)
	}()

	if cfg.Server.GRPCAddr != "" {
		tokens := token.NewService([]byte(cfg.Auth.JWTSecret))
		grpcServer := api.NewGRPCServer(st, tokens, logger)
		grpcLn, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listening on gRPC addr: %w", err)
		}
		go func() {
			errCh <- grpcServer.Serve(grpcLn)
		}()
		defer grpcServer.GracefulStop()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/livez", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if not exists)
// 2. Creates the database, the first tenant, and its admin identity
// 3. Prints the admin's bearer token and generated password
func runBootstrap(ctx context.Context) error {
	var tenantName, subdomain, email string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--tenant":
			if i+1 >= len(args) {
				return fmt.Errorf("--tenant requires a value")
			}
			tenantName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--tenant="):
			tenantName = strings.TrimPrefix(arg, "--tenant=")
		case arg == "--subdomain":
			if i+1 >= len(args) {
				return fmt.Errorf("--subdomain requires a value")
			}
			subdomain = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subdomain="):
			subdomain = strings.TrimPrefix(arg, "--subdomain=")
		case arg == "--email":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	tenantName = strings.TrimSpace(tenantName)
	subdomain = strings.TrimSpace(strings.ToLower(subdomain))
	email = strings.TrimSpace(email)
	if tenantName == "" || subdomain == "" || email == "" {
		return fmt.Errorf("--tenant, --subdomain, and --email are required")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# vaultgate configuration
# Generated by vaultgate bootstrap

server:
  http_addr: "localhost:8080"
  grpc_addr: "localhost:50051"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

tenant:
  base_domain: "localhost"
  dev_hosts: ["localhost", "127.0.0.1"]

webauthn:
  rp_id: "localhost"
  rp_display_name: "vaultgate"
  rp_origins: ["http://localhost:8080"]

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if _, err := st.GetTenantBySubdomain(ctx, subdomain); err == nil {
		return fmt.Errorf("bootstrap already complete: tenant %q exists", subdomain)
	}

	t := &store.Tenant{Name: tenantName, Subdomain: subdomain}
	if err := st.CreateTenant(ctx, t); err != nil {
		return fmt.Errorf("creating tenant: %w", err)
	}
	green.Printf("  ✓ Created tenant: %s (%s)\n", tenantName, subdomain)

	password, err := generatePassword()
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	admin := &store.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		Role:         store.RoleAdmin,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateIdentity(ctx, admin); err != nil {
		return fmt.Errorf("creating admin identity: %w", err)
	}
	green.Printf("  ✓ Created admin identity: %s\n", email)

	tokens := token.NewService([]byte(cfg.Auth.JWTSecret))
	bearer, err := tokens.Issue(token.Claims{
		Subject: admin.ID,
		Email:   admin.Email,
		Role:    string(admin.Role),
	}, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	expiresAt := time.Now().Add(cfg.Auth.TokenTTL).UTC()

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin Identity")
	cyan.Println("  --------------")
	fmt.Printf("  ID:       %s\n", admin.ID)
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Printf("  Token:    %s\n", bearer)
	fmt.Printf("  Expires:  %s\n", expiresAt.Format("Jan 02, 2006 15:04 MST"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    vaultgate serve    # start the gateway")
	fmt.Println("    vaultgate health   # check liveness")
	fmt.Println()

	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("vaultgate configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC admin address (empty to disable)", "localhost:50051")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Tenant Configuration ---")
	baseDomain := prompt(reader, "Base domain for tenant subdomains", "localhost")

	fmt.Println("\n--- WebAuthn Configuration ---")
	rpID := prompt(reader, "Relying party ID", baseDomain)
	rpOrigin := prompt(reader, "Relying party origin", "http://"+httpAddr)

	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "vaultgate")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Random JWT secret for the new install.
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# vaultgate configuration\n")
	cfg.WriteString("# Generated by vaultgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	if grpcAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: \"%s\"\n", grpcAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  token_ttl: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tenant:\n")
	cfg.WriteString(fmt.Sprintf("  base_domain: \"%s\"\n", baseDomain))
	cfg.WriteString("  dev_hosts: [\"localhost\", \"127.0.0.1\"]\n")
	cfg.WriteString("\n")

	cfg.WriteString("webauthn:\n")
	cfg.WriteString(fmt.Sprintf("  rp_id: \"%s\"\n", rpID))
	cfg.WriteString("  rp_display_name: \"vaultgate\"\n")
	cfg.WriteString(fmt.Sprintf("  rp_origins: [\"%s\"]\n", rpOrigin))
	cfg.WriteString("\n")

	cfg.WriteString("ratelimit:\n")
	cfg.WriteString("  login: { requests: 5, window: \"1m\" }\n")
	cfg.WriteString("  ceremony: { requests: 20, window: \"1m\" }\n")
	cfg.WriteString("  general: { requests: 100, window: \"1m\" }\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo set up the first tenant:")
	fmt.Printf("  vaultgate bootstrap --tenant \"First National\" --subdomain firstnational --email you@example.com\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
