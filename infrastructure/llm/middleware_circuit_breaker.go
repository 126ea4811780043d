package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-warden/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a request.
// Callers receive it wrapped in a *ports.TransportError since the service
// was never contacted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
// The circuit breaker transitions between these states based on
// success and failure patterns to provide resilience.
type CircuitBreakerState int

// Circuit breaker states.
// These states control how the circuit breaker responds to requests
// and implements the circuit breaker pattern for resilience.
const (
	// StateClosed allows all requests to pass through normally.
	// This is the default state when the downstream service is healthy.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects all requests immediately to prevent cascading failures.
	// The circuit enters this state after too many consecutive failures.
	StateOpen

	// StateHalfOpen allows limited requests to test service recovery.
	// The circuit transitions to this state after the cooldown period expires.
	StateHalfOpen
)

// CircuitBreakerMetrics enables observability for circuit breaker behavior.
// Implementations can integrate with monitoring systems to track
// circuit breaker state changes, trips, and recovery patterns.
type CircuitBreakerMetrics interface {
	// RecordState updates the current circuit breaker state metric.
	RecordState(state CircuitBreakerState)

	// RecordTrip increments the circuit breaker trip counter.
	RecordTrip()

	// RecordSuccess increments the successful request counter.
	RecordSuccess()

	// RecordFailure increments the failed request counter.
	RecordFailure()
}

// CircuitBreaker opens after consecutive failures and probes recovery with a
// single half-open call once the cooldown expires. Client-side mistakes
// (bad requests, policy blocks, caller cancellation) do not count as
// failures. The lock is held only for state transitions, never across the
// wrapped call, so concurrent requests proceed in parallel while closed.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	probing          bool
}

// NewCircuitBreaker creates a circuit breaker that opens after maxFailures
// consecutive errors and stays open for cooldownDuration before testing
// recovery.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      max(maxFailures, 1),
		cooldownDuration: cooldownDuration,
	}
}

// Call runs fn unless the circuit rejects it with ErrCircuitOpen.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, isBreakerFailure(err))
	return err
}

// admit decides whether a call may proceed. While half-open only one probe
// is in flight; everything else is rejected until it reports back.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cooldownDuration {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true, nil
	case StateHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if !failed {
		cb.failureCount = 0
		cb.state = StateClosed
		return
	}

	cb.failureCount++
	cb.lastFailure = time.Now()
	if probe || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// isBreakerFailure reports whether err indicates an unhealthy service.
func isBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var remote *ports.RemoteError
	if errors.As(err, &remote) {
		switch remote.Kind {
		case ports.KindBadRequest, ports.KindContentPolicy, ports.KindNotFound:
			return false
		}
	}
	return true
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// breakerLLM fails fast while the shared breaker is open.
type breakerLLM struct {
	next    CoreLLM
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware creates middleware that implements the circuit breaker pattern.
// The circuit opens after maxFailures consecutive errors and stays open
// for the cooldown duration before attempting recovery.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics creates circuit breaker middleware with metrics support.
// This allows monitoring of circuit breaker behavior in production systems.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next CoreLLM) CoreLLM {
		return &breakerLLM{
			next:    next,
			cb:      cb,
			metrics: metrics,
		}
	}
}

// DoRequest forwards the request through the breaker. A rejected request
// never reaches the service and surfaces as a *ports.TransportError.
func (c *breakerLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var response string
	var tokensIn, tokensOut int

	err := c.cb.Call(func() error {
		var err error
		response, tokensIn, tokensOut, err = c.next.DoRequest(ctx, prompt, opts)
		return err
	})

	if c.metrics != nil {
		switch {
		case err == nil:
			c.metrics.RecordSuccess()
		case errors.Is(err, ErrCircuitOpen):
			c.metrics.RecordTrip()
		default:
			c.metrics.RecordFailure()
		}
		c.metrics.RecordState(c.cb.GetState())
	}

	if errors.Is(err, ErrCircuitOpen) {
		return "", 0, 0, ports.NewTransportError("circuit_breaker", err)
	}
	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (c *breakerLLM) GetModel() string { return c.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (c *breakerLLM) SetModel(m string) { c.next.SetModel(m) }
