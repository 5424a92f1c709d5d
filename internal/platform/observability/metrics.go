package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	roleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "pipeline",
			Name:      "role_calls_total",
			Help:      "Role calls by outcome (success, transient, fatal, stale).",
		},
		[]string{"role", "outcome"},
	)
	roleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opd",
			Subsystem: "pipeline",
			Name:      "role_call_duration_seconds",
			Help:      "Role call latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"role"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opd",
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock latency of a pipeline cycle.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)
	staleResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "pipeline",
			Name:      "stale_results_total",
			Help:      "Role results dropped because the session epoch moved on.",
		},
		[]string{"role"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opd",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Live sessions.",
		},
	)
	llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM completion attempts by call type and outcome.",
		},
		[]string{"call_type", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			roleCalls, roleDuration, cycleDuration, staleResults,
			activeSessions, llmCalls,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRoleCall(role, outcome string, duration time.Duration) {
	RegisterMetrics()
	roleCalls.WithLabelValues(role, outcome).Inc()
	roleDuration.WithLabelValues(role).Observe(duration.Seconds())
}

func RecordStaleResult(role string) {
	RegisterMetrics()
	staleResults.WithLabelValues(role).Inc()
}

func RecordCycle(duration time.Duration) {
	RegisterMetrics()
	cycleDuration.Observe(duration.Seconds())
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

func RecordLLMCall(callType, outcome string) {
	RegisterMetrics()
	llmCalls.WithLabelValues(callType, outcome).Inc()
}
