package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the generation pipeline. All
// record methods are nil-safe so callers can run without metrics wired.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	AttemptsPerRun    prometheus.Histogram
	AttemptsTotal     *prometheus.CounterVec
	CacheOps          *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ViolationsTotal   *prometheus.CounterVec
	RequestsInFlight  prometheus.Gauge
	CodeSizeBytes     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen",
				Name:      "runs_total",
				Help:      "Total pipeline runs by outcome.",
			},
			[]string{"outcome"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codegen",
				Name:      "run_duration_seconds",
				Help:      "Duration of full pipeline runs in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		AttemptsPerRun: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codegen",
				Name:      "attempts_per_run",
				Help:      "Number of generation attempts each run consumed.",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen",
				Name:      "attempts_total",
				Help:      "Total generation attempts by outcome.",
			},
			[]string{"outcome"},
		),

		CacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen",
				Name:      "cache_ops_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"result"},
		),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen",
				Name:      "executions_total",
				Help:      "Total sandbox executions by language and status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codegen",
				Name:      "execution_duration_seconds",
				Help:      "Duration of sandbox executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),

		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen",
				Name:      "security_violations_total",
				Help:      "Deny-list violations found during validation, by rule.",
			},
			[]string{"rule"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "codegen",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codegen",
				Name:      "code_size_bytes",
				Help:      "Size of generated candidates in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.AttemptsPerRun,
		m.AttemptsTotal,
		m.CacheOps,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ViolationsTotal,
		m.RequestsInFlight,
		m.CodeSizeBytes,
	)

	return m
}

// RecordRun records a finished pipeline run.
func (m *Metrics) RecordRun(outcome string, durationSec float64, attempts int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(durationSec)
	m.AttemptsPerRun.Observe(float64(attempts))
}

// RecordAttempt records one generation attempt by outcome.
func (m *Metrics) RecordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordCache records a cache lookup outcome.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheOps.WithLabelValues(result).Inc()
}

// RecordExecution records metrics for a completed sandbox execution.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordViolation records one deny-list violation by rule id.
func (m *Metrics) RecordViolation(ruleID string) {
	if m == nil {
		return
	}
	m.ViolationsTotal.WithLabelValues(ruleID).Inc()
}

// RecordCodeSize records the size of a generated candidate.
func (m *Metrics) RecordCodeSize(bytes int) {
	if m == nil {
		return
	}
	m.CodeSizeBytes.Observe(float64(bytes))
}
