package ports

import (
	"context"
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external service
// interactions.
var (
	// ErrNotFound indicates that a requested record or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that the service returned an invalid
	// response.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// ErrorKind classifies a remote failure by the HTTP status it carried.
type ErrorKind int

const (
	// KindUnknown indicates an error of an undetermined category.
	KindUnknown ErrorKind = iota
	// KindAuthentication indicates invalid or missing credentials.
	KindAuthentication
	// KindRateLimit indicates that the provider throttled the request.
	KindRateLimit
	// KindBadRequest indicates a malformed request or invalid parameters.
	KindBadRequest
	// KindNotFound indicates that a model or route could not be found.
	KindNotFound
	// KindServerError indicates a problem on the provider's end.
	KindServerError
	// KindContentPolicy indicates that the request was blocked by a
	// content policy.
	KindContentPolicy
)

// String returns a human-readable kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindContentPolicy:
		return "content_policy"
	default:
		return "unknown"
	}
}

// KindForStatus maps an HTTP status code onto an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthentication
	case status == 429:
		return KindRateLimit
	case status == 404:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindBadRequest
	case status >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}

// TransportError reports that a request never produced a response from the
// inference service: the connection failed, the call timed out, it was
// canceled, or a local guard (rate limiter, circuit breaker) refused it.
type TransportError struct {
	// Provider names the gateway backend that was being called.
	Provider string

	// Err is the underlying network, context or guard error.
	Err error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrTimeout)
}

// NewTransportError creates a new TransportError for the given provider.
func NewTransportError(provider string, err error) *TransportError {
	return &TransportError{Provider: provider, Err: err}
}

// RemoteError reports a non-success response from the inference service.
// The status code and body are kept verbatim for diagnosis.
type RemoteError struct {
	// Provider names the gateway backend that answered.
	Provider string

	// StatusCode is the HTTP status returned by the service.
	StatusCode int

	// Body holds the response body or the provider's error message.
	Body string

	// Kind classifies the failure.
	Kind ErrorKind

	// Err holds the SDK error the response was decoded into, if any.
	Err error
}

// Error implements the error interface for RemoteError.
func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s remote error (HTTP %d) [%s]", e.Provider, e.StatusCode, e.Kind)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap returns the underlying SDK error.
func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError creates a RemoteError, deriving its kind from the status.
func NewRemoteError(provider string, statusCode int, body string, err error) *RemoteError {
	return &RemoteError{
		Provider:   provider,
		StatusCode: statusCode,
		Body:       body,
		Kind:       KindForStatus(statusCode),
		Err:        err,
	}
}

// StoreError represents an error from a persistence operation.
// It includes the store, key and operation that failed.
type StoreError struct {
	// Store names the backend (e.g. "sqlite", "s3", "local").
	Store string

	// Key is the record or object key involved in the failed operation.
	Key string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store error: operation=%s, key=%s, err=%v", e.Store, e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(store, key, operation string, err error) *StoreError {
	return &StoreError{
		Store:     store,
		Key:       key,
		Operation: operation,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
