// ABOUTME: gRPC admin plane exposing the health service behind token auth
// ABOUTME: Keepalive and interceptor wiring for operator tooling

package api

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/vaultgate/vaultgate/internal/auth"
	"github.com/vaultgate/vaultgate/internal/token"
)

// NewGRPCServer builds the admin-plane gRPC server. Every call passes
// the token interceptors, and anything beyond the health service
// requires the admin role; health reports serving once the listener
// is up.
func NewGRPCServer(identities auth.IdentityStore, tokens *token.Service, logger *slog.Logger) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			auth.UnaryInterceptor(identities, tokens, logger),
			auth.AdminUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			auth.StreamInterceptor(identities, tokens, logger),
			auth.AdminStreamInterceptor(),
		),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("vaultgate.admin", grpc_health_v1.HealthCheckResponse_SERVING)

	return server
}
