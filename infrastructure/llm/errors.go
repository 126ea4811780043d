package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-warden/internal/ports"
)

// Common errors returned by the LLM client and providers.
var (
	// ErrEmptyAPIKey indicates that an API key was required but not provided.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates that the provider's API returned an empty or nil response body.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice indicates that the provider's response contained no valid choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrMissingBaseURL indicates that a provider without a default endpoint was given none.
	ErrMissingBaseURL = errors.New("base URL is required")
)

// ErrorClassifier standardizes provider-specific errors into the gateway's
// two failure kinds: *ports.RemoteError and *ports.TransportError.
type ErrorClassifier struct {
	// Provider is the name of the LLM provider for which this classifier works.
	Provider string
}

// ClassifyHTTPError creates a RemoteError from a non-success HTTP response.
// The body is kept as returned by the service.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, body string, err error) *ports.RemoteError {
	return ports.NewRemoteError(ec.Provider, statusCode, body, err)
}

// ClassifyTransportError wraps a failure that produced no response.
func (ec *ErrorClassifier) ClassifyTransportError(err error) *ports.TransportError {
	return ports.NewTransportError(ec.Provider, err)
}

// InvalidResponse wraps a success response whose body carried no usable
// completion. The result matches ports.ErrInvalidResponse and err.
func (ec *ErrorClassifier) InvalidResponse(err error) error {
	return fmt.Errorf("%s: %w: %w", ec.Provider, ports.ErrInvalidResponse, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
