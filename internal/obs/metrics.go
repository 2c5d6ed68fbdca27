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

// HTTP metrics.
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

// Domain metrics.
var (
	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrier_auth_events_total",
			Help: "Session events by audit kind.",
		},
		[]string{"kind"},
	)

	gateAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrier_gate_attempts_total",
			Help: "Individual controller calls by outcome.",
		},
		[]string{"outcome"},
	)

	gateActuations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrier_gate_actuations_total",
			Help: "Gate open sequences by result.",
		},
		[]string{"result"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barrier_ready",
		Help: "1 when the refresh token backend answered the last readiness probe.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEvents, gateAttempts, gateActuations, ready,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthEvent counts a session event of the given kind.
func RecordAuthEvent(kind string) {
	authEvents.WithLabelValues(kind).Inc()
}

// RecordGateAttempt counts a single controller call; outcome is "ok" or "failed".
func RecordGateAttempt(outcome string) {
	gateAttempts.WithLabelValues(outcome).Inc()
}

// RecordGateActuation counts a finished open sequence ("ok", "failed" or "dry_run").
func RecordGateActuation(result string) {
	gateActuations.WithLabelValues(result).Inc()
}

// SetReady publishes the readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures request rate, latency and concurrency.
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

// CanonicalPath collapses user-controlled path segments so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if strings.HasPrefix(raw, "/gates/open/") && len(raw) > len("/gates/open/") {
		return "/gates/open/:name"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
