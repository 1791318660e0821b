// ABOUTME: gRPC interceptors authenticating admin-plane requests via bearer tokens
// ABOUTME: Extracts auth from metadata and populates context for handlers

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vaultgate/vaultgate/internal/token"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// extractAuth authenticates a gRPC request from its metadata and loads a
// fresh identity. All failures map to Unauthenticated.
func extractAuth(ctx context.Context, identities IdentityStore, tokens *token.Service, logger *slog.Logger) (*AuthContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata")
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		logAuthFailure(logger, ctx, "missing_token")
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	tok := strings.TrimPrefix(values[0], "Bearer ")
	claims, err := tokens.Verify(tok)
	if err != nil {
		logAuthFailure(logger, ctx, "invalid_token", "error", err)
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	identity, err := identities.GetIdentity(ctx, claims.Subject)
	if err != nil {
		logAuthFailure(logger, ctx, "identity_not_found", "subject", claims.Subject)
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	return &AuthContext{Identity: identity, Claims: claims}, nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
func UnaryInterceptor(identities IdentityStore, tokens *token.Service, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		authCtx, err := extractAuth(ctx, identities, tokens, logger)
		if err != nil {
			return nil, err
		}

		ctx = WithAuth(ctx, authCtx)
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
func StreamInterceptor(identities IdentityStore, tokens *token.Service, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authCtx, err := extractAuth(ss.Context(), identities, tokens, logger)
		if err != nil {
			return err
		}

		wrapped := &authenticatedStream{ServerStream: ss, ctx: WithAuth(ss.Context(), authCtx)}
		return handler(srv, wrapped)
	}
}

// healthServicePrefix marks health-probe methods, which any
// authenticated caller may use.
const healthServicePrefix = "/grpc.health.v1.Health/"

// requireAdminMethod enforces the admin role for everything on the
// admin plane except health probes.
func requireAdminMethod(ctx context.Context, fullMethod string) error {
	if strings.HasPrefix(fullMethod, healthServicePrefix) {
		return nil
	}
	if ac := FromContext(ctx); ac == nil || !ac.IsAdmin() {
		return status.Error(codes.PermissionDenied, "admin role required")
	}
	return nil
}

// AdminUnaryInterceptor returns a unary interceptor that rejects
// non-admin callers. It must run after UnaryInterceptor.
func AdminUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := requireAdminMethod(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// AdminStreamInterceptor returns a stream interceptor that rejects
// non-admin callers. It must run after StreamInterceptor.
func AdminStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := requireAdminMethod(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// authenticatedStream wraps a ServerStream with an authenticated context.
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}
