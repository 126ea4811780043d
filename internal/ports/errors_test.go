package ports

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRemoteError verifies that remote failures keep the status code and
// body verbatim and derive their kind from the status.
func TestRemoteError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantMsg  string
	}{
		{
			name:     "server error",
			status:   503,
			body:     `{"detail":"model loading"}`,
			wantKind: KindServerError,
			wantMsg:  `remote remote error (HTTP 503) [server_error]: {"detail":"model loading"}`,
		},
		{
			name:     "rate limited",
			status:   429,
			wantKind: KindRateLimit,
			wantMsg:  "remote remote error (HTTP 429) [rate_limit]",
		},
		{
			name:     "unauthorized",
			status:   401,
			body:     "bad key",
			wantKind: KindAuthentication,
			wantMsg:  "remote remote error (HTTP 401) [authentication]: bad key",
		},
		{
			name:     "unprocessable",
			status:   422,
			body:     "bad form",
			wantKind: KindBadRequest,
			wantMsg:  "remote remote error (HTTP 422) [bad_request]: bad form",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRemoteError("remote", tt.status, tt.body, nil)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.body, err.Body)
			assert.Equal(t, tt.wantKind, err.Kind)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestTransportError(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		err := NewTransportError("openai", fmt.Errorf("post: %w", context.DeadlineExceeded))
		assert.True(t, err.Timeout())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "openai transport error")
	})

	t.Run("connection refused", func(t *testing.T) {
		err := NewTransportError("remote", errors.New("dial tcp: connection refused"))
		assert.False(t, err.Timeout())

		var target *TransportError
		require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &target))
		assert.Equal(t, "remote", target.Provider)
	})
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("sqlite", "ctrl-1", "Get", ErrNotFound)
	assert.Equal(t, "sqlite store error: operation=Get, key=ctrl-1, err=not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("llm.provider", ErrConfigNotFound)
	assert.Equal(t, "config error: key=llm.provider, err=configuration not found", err.Error())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "content_policy", KindContentPolicy.String())
	assert.Equal(t, KindUnknown, KindForStatus(200))
	assert.Equal(t, KindNotFound, KindForStatus(404))
}
