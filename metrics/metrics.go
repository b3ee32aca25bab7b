// Package metrics exposes Prometheus collectors for code executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution paths
const (
	PathLocal  = "local"
	PathRemote = "remote"
)

// Execution outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeRuntimeError = "runtime_error"
	OutcomeCompileError = "compile_error"
	OutcomeTimeout      = "timeout"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
)

// LanguageOther labels every language id outside the configured set so
// client input cannot create new series
const LanguageOther = "other"

// Fallback reasons
const (
	ReasonNoCredentials = "no_credentials"
	ReasonNetwork       = "network_error"
	ReasonMalformed     = "malformed_response"
	ReasonQuota         = "quota_exhausted"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"path", "language", "outcome"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"path", "language"},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_backend_requests_total",
			Help: "Remote backend calls by backend and result",
		},
		[]string{"backend", "result"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_fallbacks_total",
			Help: "Requests that skipped or fell through the primary backend",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)

// ObserveExecution records one finished execution
func ObserveExecution(path, language, outcome string, elapsed time.Duration) {
	ExecutionsTotal.WithLabelValues(path, language, outcome).Inc()
	if elapsed > 0 {
		ExecutionDuration.WithLabelValues(path, language).Observe(float64(elapsed.Milliseconds()))
	}
}
