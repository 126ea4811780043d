package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/go-warden/infrastructure/chat"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not_found", err: fmt.Errorf("control %q: %w", "C-1", ports.ErrNotFound), want: http.StatusNotFound},
		{name: "session_not_found", err: chat.ErrSessionNotFound, want: http.StatusNotFound},
		{name: "empty_evidence", err: domain.ErrEmptyEvidence, want: http.StatusBadRequest},
		{name: "timeout", err: ports.NewTransportError("remote", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
		{name: "transport", err: ports.NewTransportError("remote", assert.AnError), want: http.StatusBadGateway},
		{name: "remote", err: ports.NewRemoteError("remote", 503, "busy", nil), want: http.StatusBadGateway},
		{name: "invalid_response", err: fmt.Errorf("remote: %w", ports.ErrInvalidResponse), want: http.StatusBadGateway},
		{name: "other", err: assert.AnError, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
