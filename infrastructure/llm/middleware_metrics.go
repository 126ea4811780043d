package llm

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-warden/internal/ports"
)

// metricsLLM records request counts, latency and token usage.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware creates middleware that collects request metrics under
// the given provider label.
func MetricsMiddleware(collector ports.MetricsCollector, provider string) Middleware {
	if provider == "" {
		provider = "unknown"
	}
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			collector: collector,
			provider:  provider,
		}
	}
}

// DoRequest executes the request and records its outcome.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)

	if m.collector == nil {
		return response, tokensIn, tokensOut, err
	}

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		labels["token_type"] = "input"
		m.collector.RecordCounter("llm_tokens_total", float64(tokensIn), labels)

		labels["token_type"] = "output"
		m.collector.RecordCounter("llm_tokens_total", float64(tokensOut), labels)
	}

	return response, tokensIn, tokensOut, err
}

// requestStatus maps a gateway error onto a low-cardinality label value.
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_open"
	}
	var transport *ports.TransportError
	if errors.As(err, &transport) {
		if transport.Timeout() {
			return "timeout"
		}
		return "transport_error"
	}
	var remote *ports.RemoteError
	if errors.As(err, &remote) {
		return "remote_" + remote.Kind.String()
	}
	if errors.Is(err, ports.ErrInvalidResponse) {
		return "invalid_response"
	}
	return "error"
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
