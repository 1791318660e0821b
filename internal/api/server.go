// ABOUTME: HTTP server assembling the gateway middleware pipeline and route table
// ABOUTME: Tenant resolution, rate limiting, the auth gate, and the step-up guard in order

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vaultgate/vaultgate/internal/alert"
	"github.com/vaultgate/vaultgate/internal/audit"
	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/cache"
	"github.com/vaultgate/vaultgate/internal/ceremony"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/obs"
	"github.com/vaultgate/vaultgate/internal/ratelimit"
	"github.com/vaultgate/vaultgate/internal/stepup"
	"github.com/vaultgate/vaultgate/internal/store"
	"github.com/vaultgate/vaultgate/internal/tenant"
	"github.com/vaultgate/vaultgate/internal/token"
)

// Server owns the gateway's HTTP surface and the components behind it.
type Server struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	cache    *cache.Cache
	tokens   *token.Service
	engine   *ceremony.Engine
	guard    *stepup.Guard
	audit    *audit.Recorder
	resolver *tenant.Resolver
	gate     *auth.Gate
	limiter  *ratelimit.Limiter
	accounts *accountBook
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer wires the full middleware stack from configuration.
func NewServer(cfg *config.Config, st *store.SQLiteStore, logger *slog.Logger) (*Server, error) {
	c := cache.New()
	tokens := token.NewService([]byte(cfg.Auth.JWTSecret))

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(st, notifier, cfg.Audit.WriteTimeout, logger)

	engine, err := ceremony.NewEngine(cfg.WebAuthn.RPID, cfg.WebAuthn.RPDisplayName, cfg.WebAuthn.RPOrigins, st, c, recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("ceremony engine: %w", err)
	}

	policy, err := stepup.LoadPolicy(cfg.StepUp.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("step-up policy: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		cache:    c,
		tokens:   tokens,
		engine:   engine,
		guard:    stepup.NewGuard(policy, engine, c, recorder, logger),
		audit:    recorder,
		resolver: tenant.NewResolver(st, cfg.Tenant.BaseDomain, cfg.Tenant.DevHosts, logger),
		gate:     auth.NewGate(st, tokens, logger),
		limiter:  ratelimit.New(),
		accounts: newAccountBook(),
		logger:   logger,
	}
	return s, nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (alert.Notifier, error) {
	m := cfg.Alerts.Matrix
	if !m.Enabled {
		return alert.Noop{}, nil
	}
	n, err := alert.NewMatrixNotifier(m.Homeserver, m.UserID, m.AccessToken, m.Room, logger)
	if err != nil {
		return nil, fmt.Errorf("matrix notifier: %w", err)
	}
	return n, nil
}

// Handler builds the complete route table behind the middleware
// pipeline. Order is load-bearing: tenant resolution, then rate
// limiting, then the auth gate, then per-route guards.
func (s *Server) Handler() http.Handler {
	mux := s.routes()

	// RequireTenant backstops the resolver: a route reached without a
	// bound tenant is refused no matter how the pipeline was assembled.
	pipeline := s.resolver.Middleware(
		s.limiter.SelectorMiddleware(s.profileFor)(
			s.gate.Middleware(
				tenant.RequireTenant(mux))))

	root := http.NewServeMux()
	if s.cfg.Metrics.Enabled {
		root.Handle("GET /metrics", obs.Handler())
	}
	root.Handle("/", obs.Instrument(pipeline, s.metricRoute))
	return root
}

// routes is the bare route table, before any middleware.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+tenant.LivenessPath, s.handleLiveness)

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /api/auth/register/begin", s.handleRegisterBegin)
	mux.HandleFunc("POST /api/auth/register/complete", s.handleRegisterComplete)
	mux.HandleFunc("POST /api/auth/authenticate/begin", s.handleAuthenticateBegin)
	mux.HandleFunc("POST /api/auth/authenticate/complete", s.handleAuthenticateComplete)

	mux.HandleFunc("GET /api/audit/trail", s.handleAuditTrail)

	mux.Handle("POST /api/transfers", s.guard.Protect(stepup.KindTransfer, http.HandlerFunc(s.handleTransfer)))
	mux.Handle("POST /api/withdrawals", s.guard.Protect(stepup.KindWithdrawal, http.HandlerFunc(s.handleWithdrawal)))
	mux.Handle("POST /api/accounts", s.guard.Protect(stepup.KindAccount, http.HandlerFunc(s.handleAccountCreate)))
	mux.HandleFunc("GET /api/accounts", s.handleAccountList)
	mux.Handle("POST /api/loans", s.guard.Protect(stepup.KindLoan, http.HandlerFunc(s.handleLoanApply)))

	mux.Handle("POST /api/admin/tenants", auth.RequireAdmin(http.HandlerFunc(s.handleTenantCreate)))
	mux.Handle("GET /api/admin/tenants/{id}", auth.RequireAdmin(http.HandlerFunc(s.handleTenantGet)))
	mux.Handle("POST /api/admin/tenants/{id}/status", auth.RequireAdmin(http.HandlerFunc(s.handleTenantStatus)))

	return mux
}

// metricRoutes is the fixed set of path labels for request metrics.
var metricRoutes = map[string]bool{
	tenant.LivenessPath:               true,
	"/api/auth/login":                 true,
	"/api/auth/logout":                true,
	"/api/auth/register/begin":        true,
	"/api/auth/register/complete":     true,
	"/api/auth/authenticate/begin":    true,
	"/api/auth/authenticate/complete": true,
	"/api/audit/trail":                true,
	"/api/transfers":                  true,
	"/api/withdrawals":                true,
	"/api/accounts":                   true,
	"/api/loans":                      true,
	"/api/admin/tenants":              true,
}

// metricRoute maps a request onto a bounded path label. Variable
// segments collapse to their pattern and unknown paths share a single
// bucket, so scanner traffic cannot grow the metric label space.
func (s *Server) metricRoute(r *http.Request) string {
	p := r.URL.Path
	switch {
	case metricRoutes[p]:
		return p
	case strings.HasPrefix(p, "/api/admin/tenants/"):
		if strings.HasSuffix(p, "/status") {
			return "/api/admin/tenants/{id}/status"
		}
		return "/api/admin/tenants/{id}"
	default:
		return "other"
	}
}

// profileFor picks the rate-limit window for a route: tight on login,
// moderate on ceremony endpoints, loose everywhere else.
func (s *Server) profileFor(r *http.Request) ratelimit.Profile {
	rl := s.cfg.RateLimit
	switch {
	case r.URL.Path == auth.LoginPath:
		return ratelimit.Profile{Name: "login", Requests: rl.Login.Requests, Window: rl.Login.Window}
	case isCeremonyPath(r.URL.Path):
		return ratelimit.Profile{Name: "ceremony", Requests: rl.Ceremony.Requests, Window: rl.Ceremony.Window}
	default:
		return ratelimit.Profile{Name: "general", Requests: rl.General.Requests, Window: rl.General.Window}
	}
}

func isCeremonyPath(path string) bool {
	switch path {
	case "/api/auth/register/begin",
		"/api/auth/register/complete",
		"/api/auth/authenticate/begin",
		"/api/auth/authenticate/complete":
		return true
	}
	return false
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Serve runs the HTTP server on the listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and releases the server's
// background resources.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.limiter.Close()
	s.cache.Close()
	return err
}
