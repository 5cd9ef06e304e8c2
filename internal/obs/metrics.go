package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Identity-core metrics. Failures of the durable audit sink surface here,
// never through the caller's control flow.
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"result"},
	)

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts transitioned to the locked state.",
	})

	auditSinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_audit_sink_failures_total",
		Help: "Audit events that could not be written to the durable sink.",
	})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_active_sessions",
		Help: "Sessions currently live in the session table.",
	})

	sessionIPMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_session_ip_mismatch_total",
		Help: "Session validations presented from an IP other than the originating one.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, lockoutsTotal, auditSinkFailures,
			activeSessions, sessionIPMismatch,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records an authentication outcome
// (success, invalid_password, user_not_found, account_locked, account_inactive).
func ObserveLogin(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}

// LockoutOccurred counts a transition into the locked state.
func LockoutOccurred() {
	lockoutsTotal.Inc()
}

// AuditSinkFailure counts a swallowed durable-sink write failure.
func AuditSinkFailure() {
	auditSinkFailures.Inc()
}

// SessionOpened and SessionsClosed track the live session gauge.
func SessionOpened() {
	activeSessions.Inc()
}

func SessionsClosed(n int) {
	activeSessions.Sub(float64(n))
}

// SessionIPMismatch counts a validation from a foreign IP (log-only policy).
func SessionIPMismatch() {
	sessionIPMismatch.Inc()
}

// CanonicalPath collapses record identifiers out of metric labels to keep
// cardinality bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "users" {
		switch len(parts) {
		case 3:
			return "/v1/users/:id"
		case 4:
			if parts[3] == "role" || parts[3] == "deactivate" {
				return "/v1/users/:id/" + parts[3]
			}
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
