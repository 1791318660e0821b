// ABOUTME: Tests for the gRPC admin-plane interceptors
// ABOUTME: Covers the admin role requirement and the health-probe exemption

package auth

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vaultgate/vaultgate/internal/store"
)

const adminMethod = "/vaultgate.admin.Tenants/Create"

func authedCtx(role store.Role) context.Context {
	return WithAuth(context.Background(), &AuthContext{
		Identity: &store.Identity{ID: "subj-1", Role: role},
	})
}

func TestAdminUnaryInterceptor_AdminPasses(t *testing.T) {
	ic := AdminUnaryInterceptor()
	called := false
	handler := func(_ context.Context, _ any) (any, error) {
		called = true
		return "ok", nil
	}

	_, err := ic(authedCtx(store.RoleAdmin), nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if !called {
		t.Error("handler should run for an admin caller")
	}
}

func TestAdminUnaryInterceptor_NonAdminDenied(t *testing.T) {
	ic := AdminUnaryInterceptor()
	called := false
	handler := func(_ context.Context, _ any) (any, error) {
		called = true
		return "ok", nil
	}

	_, err := ic(authedCtx(store.RoleUser), nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, handler)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("code = %v, want PermissionDenied", status.Code(err))
	}
	if called {
		t.Error("handler must not run for a non-admin caller")
	}
}

func TestAdminUnaryInterceptor_HealthIsExempt(t *testing.T) {
	ic := AdminUnaryInterceptor()
	called := false
	handler := func(_ context.Context, _ any) (any, error) {
		called = true
		return "ok", nil
	}

	_, err := ic(authedCtx(store.RoleUser), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if !called {
		t.Error("health probes should pass for any authenticated caller")
	}
}

// stubStream carries a fixed context through the stream interceptor.
type stubStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *stubStream) Context() context.Context { return s.ctx }

func TestAdminStreamInterceptor_NonAdminDenied(t *testing.T) {
	ic := AdminStreamInterceptor()
	called := false
	handler := func(_ any, _ grpc.ServerStream) error {
		called = true
		return nil
	}

	ss := &stubStream{ctx: authedCtx(store.RoleUser)}
	err := ic(nil, ss, &grpc.StreamServerInfo{FullMethod: adminMethod}, handler)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("code = %v, want PermissionDenied", status.Code(err))
	}
	if called {
		t.Error("handler must not run for a non-admin caller")
	}
}

func TestAdminStreamInterceptor_AdminPasses(t *testing.T) {
	ic := AdminStreamInterceptor()
	called := false
	handler := func(_ any, _ grpc.ServerStream) error {
		called = true
		return nil
	}

	ss := &stubStream{ctx: authedCtx(store.RoleAdmin)}
	if err := ic(nil, ss, &grpc.StreamServerInfo{FullMethod: adminMethod}, handler); err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if !called {
		t.Error("handler should run for an admin caller")
	}
}
