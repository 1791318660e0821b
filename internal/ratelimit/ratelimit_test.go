// ABOUTME: Tests for the fixed-window rate limiter and its middleware
// ABOUTME: Covers window exhaustion, reset, key isolation, and the 429 payload

package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestAllow_WithinLimit(t *testing.T) {
	l := New()
	defer l.Close()
	p := Profile{Name: "test", Requests: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("k", p)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestAllow_ExceedsLimit(t *testing.T) {
	l := New()
	defer l.Close()
	p := Profile{Name: "test", Requests: 2, Window: time.Minute}

	l.Allow("k", p)
	l.Allow("k", p)
	allowed, remaining := l.Allow("k", p)
	if allowed {
		t.Fatal("third request should be denied")
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Errorf("remaining = %v, want within (0, 1m]", remaining)
	}
}

func TestAllow_WindowResets(t *testing.T) {
	l := New()
	defer l.Close()
	p := Profile{Name: "test", Requests: 1, Window: 10 * time.Millisecond}

	l.Allow("k", p)
	if allowed, _ := l.Allow("k", p); allowed {
		t.Fatal("second request in window should be denied")
	}

	time.Sleep(20 * time.Millisecond)
	if allowed, _ := l.Allow("k", p); !allowed {
		t.Error("request after window reset should be allowed")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New()
	defer l.Close()
	p := Profile{Name: "test", Requests: 1, Window: time.Minute}

	l.Allow("a", p)
	if allowed, _ := l.Allow("b", p); !allowed {
		t.Error("distinct keys must not share windows")
	}
}

func TestMiddleware_Returns429WithRetryAfter(t *testing.T) {
	l := New()
	defer l.Close()
	p := Profile{Name: "login", Requests: 1, Window: time.Minute}

	handler := l.Middleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "203.0.113.9:4411"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}

	var body struct {
		Error      string `json:"error"`
		Code       string `json:"code"`
		RetryAfter int    `json:"retryAfter"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", body.Code)
	}
	if body.RetryAfter < 1 || body.RetryAfter > 60 {
		t.Errorf("retryAfter = %d, want within [1, 60]", body.RetryAfter)
	}

	headerVal, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || headerVal != body.RetryAfter {
		t.Errorf("Retry-After header = %q, want %d", rec.Header().Get("Retry-After"), body.RetryAfter)
	}
}

func TestMiddleware_SeparatesCallersAndRoutes(t *testing.T) {
	l := New()
	defer l.Close()
	p := Profile{Name: "general", Requests: 1, Window: time.Minute}

	handler := l.Middleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	first.RemoteAddr = "203.0.113.9:4411"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first caller status = %d, want 200", rec.Code)
	}

	otherCaller := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	otherCaller.RemoteAddr = "198.51.100.7:2200"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, otherCaller)
	if rec.Code != http.StatusOK {
		t.Errorf("different caller status = %d, want 200", rec.Code)
	}

	otherRoute := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	otherRoute.RemoteAddr = "203.0.113.9:4411"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, otherRoute)
	if rec.Code != http.StatusOK {
		t.Errorf("different route status = %d, want 200", rec.Code)
	}
}
