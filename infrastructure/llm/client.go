// Package llm provides a unified interface for text and vision generation
// across LLM providers, with built-in support for timeouts, rate limiting,
// circuit breaking, metrics, and tracing.
//
// The package abstracts multiple providers (OpenAI, Anthropic, Google and a
// self-hosted multipart inference service) behind a common interface while
// adding cross-cutting concerns through a middleware pattern.
//
// The gateway never retries. Every failure reaches the caller as either a
// *ports.TransportError (no response was obtained) or a *ports.RemoteError
// (the service answered with a non-success status), and the caller decides
// whether to degrade, surface or abandon the request.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	})
//	response, err := client.Complete(ctx, "Hello world!", nil)
//
// Vision usage with middleware:
//
//	client, err := llm.NewClient("remote", llm.ClientConfig{
//	    BaseURL: os.Getenv("AUDIT_REMOTE_URL"),
//	    Middleware: []llm.Middleware{
//	        llm.TimeoutMiddleware(60 * time.Second),
//	        llm.RateLimitMiddleware(5, 10),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	    },
//	})
//	response, err := client.CompleteWithAttachments(ctx, prompt, images, nil)
package llm

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/ahrav/go-warden/internal/ports"
)

// OptionAttachments is the request option key under which image
// attachments travel through the middleware chain to the provider.
const OptionAttachments = "attachments"

// CoreLLM defines the minimal interface that LLM providers must implement.
// This interface abstracts the core functionality needed to make requests
// to different LLM services, allowing the middleware system to wrap
// any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the LLM provider and returns the response.
	// The opts parameter carries generation parameters such as max tokens
	// and, under OptionAttachments, any images to include.
	// Returns the response text, input token count, output token count, and any error.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// TokenEstimator provides pluggable token estimation strategies.
type TokenEstimator interface {
	// EstimateTokens returns an approximate token count for the given text.
	EstimateTokens(text string) int
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	// The remote provider treats it as an optional bearer token.
	APIKey string

	// Model specifies which LLM model to use for requests.
	// Each provider falls back to its own default when empty.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// It is required for the remote provider.
	BaseURL string

	// Timeout sets the maximum duration for the underlying HTTP client.
	// Zero value means no client-level timeout.
	Timeout time.Duration

	// TokenEstimator provides custom token counting logic.
	// If nil, a simple character-based estimator is used.
	TokenEstimator TokenEstimator

	// Middleware allows custom middleware insertion.
	// These are applied in the order specified.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// Client implements the ports.LLMClient interface with all cross-cutting concerns.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a new LLM client with the specified provider and configuration.
// This function assembles the middleware chain and validates configuration
// before returning a ready-to-use client instance.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return NewClientFromCore(core, config.TokenEstimator, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM with middleware.
// The first middleware is the outermost.
func NewClientFromCore(core CoreLLM, estimator TokenEstimator, middleware ...Middleware) *Client {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}

	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}

	return &Client{
		core:      core,
		estimator: estimator,
	}
}

// Complete sends a prompt to the LLM and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithAttachments sends a prompt and its image attachments to the
// model. The options map is copied, never mutated.
func (c *Client) CompleteWithAttachments(
	ctx context.Context,
	prompt string,
	attachments []ports.Attachment,
	options map[string]any,
) (string, error) {
	opts := make(map[string]any, len(options)+1)
	maps.Copy(opts, options)
	if len(attachments) > 0 {
		opts[OptionAttachments] = attachments
	}
	response, _, _, err := c.core.DoRequest(ctx, prompt, opts)
	return response, err
}

// CompleteWithUsage sends a prompt to the LLM and returns detailed usage information.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// EstimateTokens returns an approximate token count for the given text.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SimpleTokenEstimator provides basic character-based token estimation,
// assuming roughly 4 characters per token.
type SimpleTokenEstimator struct{}

// EstimateTokens returns an approximate token count using character-based heuristics.
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// Provider factory registry for extensibility.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory allows registration of custom LLM provider factories.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// Providers returns the names of every registered provider.
func Providers() []string {
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	return names
}
