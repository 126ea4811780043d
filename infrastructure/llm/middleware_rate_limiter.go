package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-warden/internal/ports"
)

// rateLimitedLLM paces requests with a token bucket shared by every client
// built from the same middleware value.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket. limit is requests per second; burst allows short spikes.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:    next,
			limiter: limiter,
		}
	}
}

// DoRequest waits for a token before forwarding the request. A wait that is
// cut short by the context never reaches the service, so it is reported as a
// transport failure.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, ports.NewTransportError("rate_limiter", fmt.Errorf("rate limit: %w", err))
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
