// ABOUTME: Fixed-window request rate limiter keyed by caller identity and route
// ABOUTME: Counters are ephemeral and mutex-guarded; loss on restart is acceptable

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/vaultgate/vaultgate/internal/httpx"
	"github.com/vaultgate/vaultgate/internal/obs"
)

// Profile is a named fixed-window limit. Distinct profiles cover login
// (tight), ceremony endpoints (moderate), and the general API (loose).
type Profile struct {
	Name     string
	Requests int
	Window   time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks fixed-window counters keyed by (caller network
// identity, route, method). The map only needs to bound abuse within a
// window, not survive restarts.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cancel  context.CancelFunc
}

// New creates a limiter and starts its background sweep.
func New() *Limiter {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		windows: make(map[string]*window),
		cancel:  cancel,
	}
	go l.runSweep(ctx)
	return l
}

// Allow records one request against the profile's window for key. When
// the limit is exceeded it reports false along with the time remaining
// until the window resets.
func (l *Limiter) Allow(key string, p Profile) (bool, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(p.Window)}
		return true, 0
	}
	if w.count >= p.Requests {
		return false, time.Until(w.resetAt)
	}
	w.count++
	return true, 0
}

// runSweep drops windows that have fully elapsed so abandoned keys do
// not accumulate.
func (l *Limiter) runSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for k, w := range l.windows {
				if now.After(w.resetAt) {
					delete(l.windows, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the sweep goroutine.
func (l *Limiter) Close() {
	if l.cancel != nil {
		l.cancel()
	}
}

// rateLimitedBody extends the standard failure payload with the
// window's remaining time so clients can back off precisely.
type rateLimitedBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware enforces a single profile on every request it wraps.
func (l *Limiter) Middleware(p Profile) func(http.Handler) http.Handler {
	return l.SelectorMiddleware(func(*http.Request) Profile { return p })
}

// SelectorMiddleware enforces a per-request profile, letting one layer
// apply tight login limits and loose general limits. The window key
// combines caller address, method and path so one abusive client cannot
// starve a route for everyone else.
func (l *Limiter) SelectorMiddleware(selector func(*http.Request) Profile) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := selector(r)
			key := httpx.ClientIP(r) + "|" + r.Method + "|" + r.URL.Path
			allowed, remaining := l.Allow(key, p)
			if !allowed {
				retryAfter := int(math.Ceil(remaining.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				obs.RateLimited.WithLabelValues(p.Name).Inc()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				httpx.WriteJSON(w, http.StatusTooManyRequests, rateLimitedBody{
					Error:      "rate limit exceeded",
					Code:       httpx.CodeRateLimited,
					RetryAfter: retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
