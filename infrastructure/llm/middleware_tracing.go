package llm

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-warden/internal/ports"
)

// tracedLLM wraps each request in an OpenTelemetry span.
type tracedLLM struct {
	next        CoreLLM
	serviceName string
	tracer      trace.Tracer
}

// TracingMiddleware creates middleware that adds a span per request using the
// global tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{
			next:        next,
			serviceName: serviceName,
			tracer:      otel.Tracer("llm-gateway"),
		}
	}
}

// DoRequest executes the request within a span carrying the model, prompt
// size, attachment count and, on success, token usage.
func (t *tracedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	attachments, _ := opts[OptionAttachments].([]ports.Attachment)

	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithAttributes(
			attribute.String("service.name", t.serviceName),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.Int("llm.prompt.length", len(prompt)),
			attribute.Int("llm.attachments", len(attachments)),
		),
	)
	defer span.End()

	response, tokensIn, tokensOut, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var remote *ports.RemoteError
		if errors.As(err, &remote) {
			span.SetAttributes(attribute.Int("http.status_code", remote.StatusCode))
		}
		return response, tokensIn, tokensOut, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", tokensIn),
		attribute.Int("llm.tokens.output", tokensOut),
	)
	return response, tokensIn, tokensOut, nil
}

// GetModel returns the model name from the wrapped implementation.
func (t *tracedLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *tracedLLM) SetModel(m string) { t.next.SetModel(m) }
