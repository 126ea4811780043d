package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestPrometheusMetrics_LLMMetrics(t *testing.T) {
	pm, reg := newTestMetrics(t)

	labels := map[string]string{"provider": "remote", "model": "remote-vlm", "status": "success"}
	pm.RecordCounter("llm_requests_total", 1, labels)
	pm.RecordCounter("llm_requests_total", 1, labels)
	pm.RecordHistogram("llm_latency_seconds", 0.42, labels)

	tokenLabels := map[string]string{"provider": "remote", "model": "remote-vlm", "status": "success", "token_type": "input"}
	pm.RecordCounter("llm_tokens_total", 120, tokenLabels)

	assert.Equal(t, float64(2), testutil.ToFloat64(pm.llmRequests.WithLabelValues("remote", "remote-vlm", "success")))
	assert.Equal(t, float64(120), testutil.ToFloat64(pm.llmTokens.WithLabelValues("remote", "remote-vlm", "input")))

	count, err := testutil.GatherAndCount(reg, "llm_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusMetrics_AuditCounters(t *testing.T) {
	pm, _ := newTestMetrics(t)

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		read   func() float64
	}{
		{
			name:   "verdicts",
			metric: "audit_verdicts_total",
			labels: map[string]string{"compliance": "NON-COMPLIANT", "needs_human_review": "true"},
			read: func() float64 {
				return testutil.ToFloat64(pm.verdicts.WithLabelValues("NON-COMPLIANT", "true"))
			},
		},
		{
			name:   "image failures without reason",
			metric: "audit_image_failures_total",
			labels: nil,
			read:   func() float64 { return testutil.ToFloat64(pm.imageFailures.WithLabelValues("unknown")) },
		},
		{
			name:   "refusals",
			metric: "chat_refusals_total",
			read:   func() float64 { return testutil.ToFloat64(pm.chatRefusals) },
		},
		{
			name:   "containment failures",
			metric: "chat_containment_failures_total",
			read:   func() float64 { return testutil.ToFloat64(pm.chatContainErr) },
		},
		{
			name:   "unknown metric falls through",
			metric: "something_else",
			read:   func() float64 { return testutil.ToFloat64(pm.operationCounter.WithLabelValues("something_else")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm.RecordCounter(tt.metric, 1, tt.labels)
			assert.Equal(t, float64(1), tt.read())
		})
	}
}

func TestPrometheusMetrics_LatencyAndGauge(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordLatency("audit_image_evaluation", 250*time.Millisecond, nil)
	pm.RecordHistogram("custom_histogram", 3, nil)
	pm.RecordGauge("chat_sessions_active", 7, nil)

	count, err := testutil.GatherAndCount(reg, "audit_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, float64(7), testutil.ToFloat64(pm.systemGauges.WithLabelValues("chat_sessions_active")))
}

func TestNewPrometheusMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
}
