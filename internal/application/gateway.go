package application

import (
	"fmt"
	"maps"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-warden/infrastructure/llm"
	"github.com/ahrav/go-warden/internal/ports"
)

// NewGateway builds the inference client described by cfg. Middleware runs
// outermost first: tracing, metrics, circuit breaker, rate limit, timeout.
// No retry layer is ever installed.
func NewGateway(cfg LLMConfig, metrics ports.MetricsCollector) (ports.LLMClient, error) {
	providers := maps.Clone(llm.DefaultProviders)

	pc, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if cfg.BaseURL != "" {
		pc.BaseURL = cfg.BaseURL
	}
	providers[cfg.Provider] = pc

	middleware := []llm.Middleware{llm.TracingMiddleware("clause-audit")}
	if metrics != nil {
		middleware = append(middleware, llm.MetricsMiddleware(metrics, cfg.Provider))
	}
	if cfg.CircuitMaxFailures > 0 {
		middleware = append(middleware, llm.CircuitBreakerMiddlewareWithMetrics(
			cfg.CircuitMaxFailures, cfg.CircuitCooldown, breakerMetrics{collector: metrics, provider: cfg.Provider},
		))
	}
	if cfg.RateLimit > 0 {
		burst := max(cfg.RateBurst, 1)
		middleware = append(middleware, llm.RateLimitMiddleware(rate.Limit(cfg.RateLimit), burst))
	}
	middleware = append(middleware, llm.TimeoutMiddleware(cfg.Timeout))

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:         providers,
		DefaultProvider:   cfg.Provider,
		DefaultTimeout:    cfg.Timeout,
		DefaultMiddleware: middleware,
	})
	if err != nil {
		return nil, err
	}

	spec := cfg.Provider
	if cfg.Model != "" {
		spec += "/" + cfg.Model
	}
	return registry.GetClient(spec)
}

// breakerMetrics reports circuit breaker activity through the shared
// collector.
type breakerMetrics struct {
	collector ports.MetricsCollector
	provider  string
}

func (b breakerMetrics) labels() map[string]string {
	return map[string]string{"provider": b.provider}
}

func (b breakerMetrics) RecordState(state llm.CircuitBreakerState) {
	if b.collector != nil {
		b.collector.RecordGauge("llm_circuit_state", float64(state), b.labels())
	}
}

func (b breakerMetrics) RecordTrip() {
	if b.collector != nil {
		b.collector.RecordCounter("llm_circuit_trips_total", 1, b.labels())
	}
}

func (b breakerMetrics) RecordSuccess() {}

func (b breakerMetrics) RecordFailure() {
	if b.collector != nil {
		b.collector.RecordCounter("llm_circuit_failures_total", 1, b.labels())
	}
}
