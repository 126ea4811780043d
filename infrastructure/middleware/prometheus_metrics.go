// Package middleware provides cross-cutting concerns for the audit service.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-warden/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. Known metric names map onto dedicated vectors with fixed
// label sets; anything else falls through to generic operation metrics.
type PrometheusMetrics struct {
	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	verdicts       *prometheus.CounterVec
	imageFailures  *prometheus.CounterVec
	chatRefusals   prometheus.Counter
	chatContainErr prometheus.Counter

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers
// its metrics with reg. A nil reg uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Inference gateway metrics.
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "Latency of inference gateway calls.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Inference gateway calls by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by successful gateway calls.",
			},
			[]string{"provider", "model", "token_type"},
		),

		// Audit outcome metrics.
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_verdicts_total",
				Help: "Aggregated control verdicts by decision.",
			},
			[]string{"compliance", "needs_human_review"},
		),
		imageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_image_failures_total",
				Help: "Evidence images whose evaluation call failed.",
			},
			[]string{"reason"},
		),
		chatRefusals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_refusals_total",
				Help: "Chat replies replaced by the refusal message.",
			},
		),
		chatContainErr: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_containment_failures_total",
				Help: "Containment checks that failed and were let through.",
			},
		),

		// Generic metrics.
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_operation_duration_seconds",
				Help:    "Execution time of audit operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_operations_total",
				Help: "Total number of audit operations by metric name.",
			},
			[]string{"operation"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "audit_system_state",
				Help: "Current system state values.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "status"),
		).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "token_type"),
		).Add(value)
	case "audit_verdicts_total":
		pm.verdicts.WithLabelValues(
			label(labels, "compliance"),
			label(labels, "needs_human_review"),
		).Add(value)
	case "audit_image_failures_total":
		pm.imageFailures.WithLabelValues(label(labels, "reason")).Add(value)
	case "chat_refusals_total":
		pm.chatRefusals.Add(value)
	case "chat_containment_failures_total":
		pm.chatContainErr.Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "status"),
		).Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric).Observe(value)
	}
}

// label returns labels[key], or "unknown" when missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
