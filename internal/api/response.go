package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-warden/infrastructure/chat"
	"github.com/ahrav/go-warden/internal/application"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// Response is the envelope of every API reply. Code is 0 on success and -1
// on failure.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Code: 0, Msg: "success", Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Code: -1, Msg: msg})
}

// failErr replies with the status that matches err. Messages name the
// failing clause, control or session; internals stay in the logs.
func failErr(c *gin.Context, err error) {
	_ = c.Error(err)
	fail(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		remote    *ports.RemoteError
		transport *ports.TransportError
		verr      *domain.ValidationError
	)
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyEvidence),
		errors.Is(err, domain.ErrBlankClause),
		errors.Is(err, domain.ErrEmptyInstruction),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, application.ErrInvalidControlID),
		errors.Is(err, application.ErrMissingGrounding),
		errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &transport):
		if transport.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.As(err, &remote), errors.Is(err, ports.ErrInvalidResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
