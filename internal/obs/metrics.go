// ABOUTME: Prometheus metrics for the auth and transaction-risk gateway
// ABOUTME: Counters for auth failures, ceremonies, step-up decisions and rate limiting

package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthFailures counts authentication gate rejections by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgate_auth_failures_total",
			Help: "Authentication gate rejections by reason.",
		},
		[]string{"reason"},
	)

	// Ceremonies counts credential ceremony completions by ceremony and outcome.
	Ceremonies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgate_ceremonies_total",
			Help: "Credential ceremony completions by ceremony and outcome.",
		},
		[]string{"ceremony", "outcome"},
	)

	// StepUpDecisions counts step-up policy decisions by outcome.
	StepUpDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgate_stepup_decisions_total",
			Help: "Step-up policy decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// RateLimited counts requests rejected by the rate limiter, by profile.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgate_ratelimited_total",
			Help: "Requests rejected by the rate limiter, by profile.",
		},
		[]string{"profile"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultgate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusWriter records the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler with request count and latency metrics.
// label maps each request onto a bounded path label; raw URL paths must
// not reach the metrics or unmatched paths grow the label space without
// limit.
func Instrument(next http.Handler, label func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := label(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
