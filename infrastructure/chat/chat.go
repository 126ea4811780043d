// Package chat implements scoped conversational follow-up over audit
// content. Every answer is generated and then verified by a second,
// independent classification call; answers that stray from the session
// grounding are replaced with a fixed bilingual refusal.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// Chat defaults.
const (
	DefaultMaxTokens            = 500
	DefaultContainmentMaxTokens = 8
)

// Config controls chat generation.
type Config struct {
	// HistoryLimit is the number of turns kept behind the preamble.
	HistoryLimit int `yaml:"history_limit" json:"history_limit" validate:"min=2,max=200"`

	// MaxTokens bounds each generated reply.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"min=16,max=8192"`

	// Temperature for reply generation. The containment call always runs
	// at zero.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=1.0"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: domain.DefaultHistoryLimit,
		MaxTokens:    DefaultMaxTokens,
	}
}

var validate = validator.New()

// ErrEmptyMessage is returned for blank user messages.
var ErrEmptyMessage = errors.New("message is empty")

// affirmative holds the folded tokens that mark a grounded reply.
var affirmative = []string{"yes", "نعم"}

// Assistant answers user questions within a session's grounding.
// It keeps no per-session state; sessions are passed in explicitly.
type Assistant struct {
	llm     ports.LLMClient
	config  Config
	metrics ports.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAssistant creates an Assistant. metrics and logger may be nil.
func NewAssistant(llm ports.LLMClient, config Config, metrics ports.MetricsCollector, logger *slog.Logger) (*Assistant, error) {
	if llm == nil {
		return nil, errors.New("LLM client cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		llm:     llm,
		config:  config,
		metrics: metrics,
		logger:  logger.With("component", "chat"),
		tracer:  otel.Tracer("scoped-chat"),
	}, nil
}

// NewControlSession grounds a session on one control instruction and the
// report produced for it.
func NewControlSession(instruction domain.ControlInstruction, report string) (*domain.Session, error) {
	if err := instruction.Validate(); err != nil {
		return nil, err
	}
	preamble, err := render(controlPreamble, controlData{Instruction: instruction, Report: report, ReportLimit: MaxReportRunes})
	if err != nil {
		return nil, fmt.Errorf("render control preamble: %w", err)
	}
	return newSession(domain.SessionControl, preamble), nil
}

// NewGeneralSession grounds a session on a set of clauses. Every clause
// gets its own titled section in the preamble.
func NewGeneralSession(clauses []domain.Clause) (*domain.Session, error) {
	if len(clauses) == 0 {
		return nil, errors.New("general session needs at least one clause")
	}
	for _, c := range clauses {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	preamble, err := render(generalPreamble, generalData{Clauses: clauses})
	if err != nil {
		return nil, fmt.Errorf("render general preamble: %w", err)
	}
	return newSession(domain.SessionGeneral, preamble), nil
}

func newSession(kind domain.SessionKind, preamble string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		Kind:       kind,
		Preamble:   preamble,
		Turns:      []domain.ChatTurn{},
		CreatedAt:  now,
		LastActive: now,
	}
}

// Chat answers message within session and records both turns. The
// returned reply is exactly what is stored as the assistant turn: either
// the generated answer or Refusal. A failed generation leaves the session
// unchanged; a failed containment check is logged and the answer is kept.
func (a *Assistant) Chat(ctx context.Context, session *domain.Session, message string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "Assistant.Chat",
		trace.WithAttributes(
			attribute.String("session.id", session.ID),
			attribute.String("session.kind", string(session.Kind)),
			attribute.Int("session.turns", len(session.Turns)),
		),
	)
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	previous := session.Turns
	session.Append(domain.RoleUser, message)
	session.Trim(a.config.HistoryLimit)

	candidate, err := a.llm.Complete(ctx, serialize(session), map[string]any{
		"max_tokens":  a.config.MaxTokens,
		"temperature": a.config.Temperature,
	})
	if err != nil {
		session.Turns = previous
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chat session %s: %w", session.ID, err)
	}
	candidate = strings.TrimSpace(candidate)

	reply, refused := candidate, false
	grounded, err := a.contained(ctx, session.Preamble, message, candidate)
	switch {
	case err != nil:
		a.logger.WarnContext(ctx, "containment check failed, keeping reply",
			"session_id", session.ID, "error", err)
		a.recordCounter("chat_containment_failures_total")
		span.AddEvent("containment_failed_open")
	case !grounded:
		reply, refused = Refusal, true
		a.recordCounter("chat_refusals_total")
		span.AddEvent("reply_refused")
	}

	session.Append(domain.RoleAssistant, reply)
	session.Trim(a.config.HistoryLimit)
	session.LastActive = time.Now().UTC()

	span.SetAttributes(attribute.Bool("chat.refused", refused))
	return reply, nil
}

// contained asks the model whether candidate stays within grounding.
func (a *Assistant) contained(ctx context.Context, grounding, question, candidate string) (bool, error) {
	prompt, err := render(containmentPrompt, containmentData{
		Grounding: grounding,
		Question:  question,
		Reply:     candidate,
	})
	if err != nil {
		return false, err
	}

	verdict, err := a.llm.Complete(ctx, prompt, map[string]any{
		"max_tokens":  DefaultContainmentMaxTokens,
		"temperature": 0.0,
	})
	if err != nil {
		return false, err
	}
	return IsAffirmative(verdict), nil
}

// IsAffirmative reports whether a classifier answer contains an affirmative
// token in English or Arabic, ignoring case and Unicode normalization
// differences.
func IsAffirmative(answer string) bool {
	folded := cases.Fold().String(norm.NFC.String(answer))
	for _, token := range affirmative {
		if strings.Contains(folded, token) {
			return true
		}
	}
	return false
}

// serialize flattens the preamble and history into a single prompt that
// ends with an open assistant turn.
func serialize(s *domain.Session) string {
	var b strings.Builder
	b.WriteString("System: ")
	b.WriteString(s.Preamble)
	for _, t := range s.Turns {
		b.WriteString("\n\n")
		b.WriteString(roleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	b.WriteString("\n\nAssistant:")
	return b.String()
}

func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}

func (a *Assistant) recordCounter(name string) {
	if a.metrics != nil {
		a.metrics.RecordCounter(name, 1, nil)
	}
}
