package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-warden/infrastructure/parser"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// Evaluator defaults.
const (
	DefaultEvaluationMaxTokens   = 1024
	DefaultEvaluationConcurrency = 4
)

// FlagEvaluationFailed marks verdicts whose gateway call failed.
const FlagEvaluationFailed = "evaluation_failed"

// EvaluatorConfig controls evidence evaluation.
type EvaluatorConfig struct {
	// MaxTokens is the default reply budget per image.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"min=32,max=8192"`

	// Temperature for evaluation calls.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=1.0"`

	// MaxConcurrency bounds parallel image evaluations per control.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1,max=64"`
}

// DefaultEvaluatorConfig returns an EvaluatorConfig with sensible defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		MaxTokens:      DefaultEvaluationMaxTokens,
		MaxConcurrency: DefaultEvaluationConcurrency,
	}
}

// Evaluator judges evidence images against an evaluation prompt, one image
// per model call. It never returns an error for a single image: failures
// are folded into a degraded verdict so sibling images are unaffected.
type Evaluator struct {
	llm     ports.LLMClient
	config  EvaluatorConfig
	metrics ports.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewEvaluator creates an Evaluator. metrics and logger may be nil.
func NewEvaluator(
	llm ports.LLMClient,
	config EvaluatorConfig,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) (*Evaluator, error) {
	if llm == nil {
		return nil, errors.New("LLM client cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		llm:     llm,
		config:  config,
		metrics: metrics,
		logger:  logger.With("component", "evaluator"),
		tracer:  otel.Tracer("evidence-evaluator"),
	}, nil
}

// EvaluationResult is the typed outcome of one image evaluation. Verdict is
// always usable; Err is set when the gateway call failed and Verdict is the
// degraded stand-in.
type EvaluationResult struct {
	Index   int
	Verdict domain.ImageVerdict
	Err     error
}

// Failed reports whether the gateway call for this image failed.
func (r EvaluationResult) Failed() bool { return r.Err != nil }

// Evaluate sends exactly one image with prompt and parses the reply.
// maxTokens <= 0 uses the configured default.
func (e *Evaluator) Evaluate(ctx context.Context, image ports.Attachment, prompt string, maxTokens int) domain.ImageVerdict {
	return e.evaluate(ctx, image, prompt, maxTokens).Verdict
}

func (e *Evaluator) evaluate(ctx context.Context, image ports.Attachment, prompt string, maxTokens int) EvaluationResult {
	ctx, span := e.tracer.Start(ctx, "Evaluator.Evaluate",
		trace.WithAttributes(
			attribute.String("image.id", image.Name),
			attribute.String("image.mime_type", image.MIMEType),
			attribute.Int("image.bytes", len(image.Data)),
		),
	)
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = e.config.MaxTokens
	}
	options := map[string]any{
		"max_tokens":  maxTokens,
		"temperature": e.config.Temperature,
	}
	if supportsJSONMode(e.llm) {
		options["response_format"] = "json_object"
	}

	start := time.Now()
	reply, err := e.llm.CompleteWithAttachments(ctx, prompt, []ports.Attachment{image}, options)
	e.recordLatency(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WarnContext(ctx, "image evaluation failed", "image", image.Name, "error", err)
		e.recordCounter("audit_image_failures_total", map[string]string{"reason": failureReason(err)})

		v := FailedVerdict(err)
		v.ImageID = image.Name
		return EvaluationResult{Verdict: v, Err: err}
	}

	v := parser.ParseVerdict(reply)
	v.ImageID = image.Name
	span.SetAttributes(
		attribute.String("verdict.compliance", string(v.Compliance)),
		attribute.Bool("verdict.needs_human_review", v.NeedsHumanReview),
	)
	return EvaluationResult{Verdict: v}
}

// EvaluateAll evaluates every image concurrently, bounded by
// MaxConcurrency, and returns results in input order after all calls have
// finished. A canceled context yields degraded verdicts for images that had
// not started.
func (e *Evaluator) EvaluateAll(ctx context.Context, images []ports.Attachment, prompt string) []EvaluationResult {
	ctx, span := e.tracer.Start(ctx, "Evaluator.EvaluateAll",
		trace.WithAttributes(attribute.Int("batch.size", len(images))))
	defer span.End()

	results := make([]EvaluationResult, len(images))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.config.MaxConcurrency)

	for i, image := range images {
		g.Go(func() error {
			var res EvaluationResult
			if err := ctx.Err(); err != nil {
				v := FailedVerdict(err)
				v.ImageID = image.Name
				res = EvaluationResult{Verdict: v, Err: err}
			} else {
				res = e.evaluate(ctx, image, prompt, 0)
			}
			res.Index = i

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("batch.failed", failed))
	return results
}

// Verdicts extracts the verdicts from results, preserving order.
func Verdicts(results []EvaluationResult) []domain.ImageVerdict {
	out := make([]domain.ImageVerdict, len(results))
	for i, r := range results {
		out[i] = r.Verdict
	}
	return out
}

// FailedVerdict is the verdict recorded when an image could not be
// evaluated at all. The error text is kept in full.
func FailedVerdict(err error) domain.ImageVerdict {
	msg := err.Error()
	return domain.ImageVerdict{
		Compliance:       domain.Indecisive,
		Flags:            []string{FlagEvaluationFailed},
		BriefReport:      "Evaluation could not be completed: " + parser.Truncate(msg, parser.BriefLimit),
		FullReport:       "evaluation failed: " + msg,
		NeedsHumanReview: true,
	}
}

func failureReason(err error) string {
	var transport *ports.TransportError
	if errors.As(err, &transport) {
		if transport.Timeout() {
			return "timeout"
		}
		return "transport"
	}
	var remote *ports.RemoteError
	if errors.As(err, &remote) {
		return "remote_" + strings.ToLower(remote.Kind.String())
	}
	if errors.Is(err, ports.ErrInvalidResponse) {
		return "invalid_response"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "unknown"
}

func (e *Evaluator) recordLatency(d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordLatency("audit_image_evaluation", d, nil)
	}
}

func (e *Evaluator) recordCounter(name string, labels map[string]string) {
	if e.metrics != nil {
		e.metrics.RecordCounter(name, 1, labels)
	}
}
