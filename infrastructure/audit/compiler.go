package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-warden/infrastructure/parser"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// Compiler defaults.
const (
	DefaultCompileMaxTokens   = 2048
	DefaultCompileConcurrency = 4
	DefaultCompileTemperature = 0.0
)

// CompilerConfig controls instruction synthesis.
type CompilerConfig struct {
	// MaxTokens bounds the compiler reply.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"min=64,max=16384"`

	// Temperature for the compile call. Zero keeps output stable.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=1.0"`

	// MaxConcurrency limits parallel compile calls in CompileBatch.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1,max=32"`
}

// DefaultCompilerConfig returns a CompilerConfig with sensible defaults.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		MaxTokens:      DefaultCompileMaxTokens,
		Temperature:    DefaultCompileTemperature,
		MaxConcurrency: DefaultCompileConcurrency,
	}
}

var validate = validator.New()

// Compiler turns clauses into ControlInstructions with one model call per
// clause, and renders evaluation prompts from instructions.
// It is stateless and safe for concurrent use.
type Compiler struct {
	llm    ports.LLMClient
	config CompilerConfig
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCompiler creates a Compiler. A nil logger falls back to slog.Default.
func NewCompiler(llm ports.LLMClient, config CompilerConfig, logger *slog.Logger) (*Compiler, error) {
	if llm == nil {
		return nil, errors.New("LLM client cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		llm:    llm,
		config: config,
		logger: logger.With("component", "compiler"),
		tracer: otel.Tracer("clause-compiler"),
	}, nil
}

// Compile produces the ControlInstruction for clause. Every failure, be it a
// blank clause, a gateway error or an unparseable reply, is returned as a
// *domain.CompilationError naming the clause; nothing is masked.
func (c *Compiler) Compile(ctx context.Context, clause domain.Clause) (domain.ControlInstruction, error) {
	ctx, span := c.tracer.Start(ctx, "Compiler.Compile",
		trace.WithAttributes(
			attribute.String("clause.title", clause.Title),
			attribute.Int("clause.length", len(clause.Description)),
		),
	)
	defer span.End()

	fail := func(err error) (domain.ControlInstruction, error) {
		cerr := domain.NewCompilationError(clause.Title, err)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		return domain.ControlInstruction{}, cerr
	}

	if err := clause.Validate(); err != nil {
		return fail(err)
	}

	lang := domain.DetectLanguage(clause.Description)
	span.SetAttributes(attribute.String("clause.language", string(lang)))

	var prompt strings.Builder
	if err := compileTemplate.Execute(&prompt, compilePromptData{
		Title:       clause.Title,
		Description: clause.Description,
		Language:    lang,
	}); err != nil {
		return fail(fmt.Errorf("render compile prompt: %w", err))
	}

	options := map[string]any{
		"temperature": c.config.Temperature,
		"max_tokens":  c.config.MaxTokens,
	}
	if supportsJSONMode(c.llm) {
		options["response_format"] = "json_object"
	}

	reply, err := c.llm.Complete(ctx, prompt.String(), options)
	if err != nil {
		return fail(err)
	}

	instruction, err := parser.ParseInstruction(reply)
	if err != nil {
		return fail(err)
	}

	if got := instruction.Language(); got != lang {
		c.logger.WarnContext(ctx, "instruction language differs from clause",
			"clause", clause.Title, "clause_language", lang, "instruction_language", got)
		span.AddEvent("language_mismatch")
	}

	span.SetAttributes(attribute.Int("instruction.steps", len(instruction.AuditInstructions)))
	return instruction, nil
}

// CompileResult is the outcome of compiling one clause in a batch.
// Exactly one of Instruction or Err is meaningful.
type CompileResult struct {
	Clause      domain.Clause
	Instruction domain.ControlInstruction
	// Err is a *domain.CompilationError when the clause failed.
	Err error
}

// OK reports whether the clause compiled.
func (r CompileResult) OK() bool { return r.Err == nil }

// CompileBatch compiles clauses concurrently and reports per-clause results
// in input order. Clauses with blank descriptions are skipped with a
// CompilationError rather than sent to the model. A failing clause never
// stops its siblings; only context cancellation ends the batch early, in
// which case unfinished clauses carry the context error.
func (c *Compiler) CompileBatch(ctx context.Context, clauses []domain.Clause) []CompileResult {
	ctx, span := c.tracer.Start(ctx, "Compiler.CompileBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(clauses))))
	defer span.End()

	results := make([]CompileResult, len(clauses))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)

	for i, clause := range clauses {
		g.Go(func() error {
			res := CompileResult{Clause: clause}
			if err := gctx.Err(); err != nil {
				res.Err = domain.NewCompilationError(clause.Title, err)
			} else {
				res.Instruction, res.Err = c.Compile(gctx, clause)
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
			c.logger.WarnContext(ctx, "clause compilation failed", "clause", r.Clause.Title, "error", r.Err)
		}
	}
	span.SetAttributes(attribute.Int("batch.failed", failed))
	return results
}

// BuildEvaluationPrompt renders the per-image evaluation prompt for an
// instruction. No model call is made; equal instructions always produce
// identical prompts.
func BuildEvaluationPrompt(instruction domain.ControlInstruction) (string, error) {
	if err := instruction.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	err := evaluationTemplate.Execute(&b, evaluationPromptData{
		Description: instruction.DescriptionControl,
		Steps:       instruction.AuditInstructions,
		Language:    instruction.Language(),
	})
	if err != nil {
		return "", fmt.Errorf("render evaluation prompt: %w", err)
	}
	return b.String(), nil
}

// supportsJSONMode reports whether the client's model honours a JSON
// response format option.
func supportsJSONMode(client ports.LLMClient) bool {
	model := strings.ToLower(client.GetModel())
	return strings.Contains(model, "gpt") || strings.Contains(model, "gemini")
}
