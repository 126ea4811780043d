package ports

import (
	"context"
	"io"
	"time"

	"github.com/ahrav/go-warden/internal/domain"
)

// Attachment is a binary input sent alongside a prompt, typically an
// evidence image.
type Attachment struct {
	// Name is the original file name or URL of the attachment.
	Name string
	// MIMEType describes Data (e.g. "image/jpeg").
	MIMEType string
	// Data holds the raw bytes.
	Data []byte
}

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations handle provider-specific details like authentication,
// request formatting, and response parsing. Implementations never retry
// on their own: a failed call surfaces a *TransportError or *RemoteError
// to the caller.
type LLMClient interface {
	// Complete sends a text-only completion request to the LLM provider.
	// It returns the generated text and any error encountered.
	//
	// The options map allows flexibility for different providers without
	// changing the interface. Common options include:
	//   - "temperature": float64
	//   - "max_tokens": int
	//   - "system": string
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithAttachments sends a prompt together with binary
	// attachments (images) to a vision-capable model.
	CompleteWithAttachments(
		ctx context.Context,
		prompt string,
		attachments []Attachment,
		options map[string]any,
	) (string, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// BlobStore persists opaque objects such as evidence images and rendered
// reports. Keys are slash-separated paths relative to the store root.
type BlobStore interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key, contentType string, data io.Reader) error

	// Get opens the object stored under key. Callers must close the reader.
	// It returns an error wrapping ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// InstructionRecord is the persisted form of a compiled control.
type InstructionRecord struct {
	// ControlID uniquely identifies the control.
	ControlID string `json:"control_id"`
	// Title is the human-readable clause title the control came from.
	Title string `json:"title,omitempty"`
	// Instruction is the structured control instruction.
	Instruction domain.ControlInstruction `json:"instruction"`
	// EvaluationPrompt is the prompt derived from Instruction.
	EvaluationPrompt string `json:"evaluation_prompt"`
	// CreatedAt and UpdatedAt track the row lifecycle.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InstructionStore keeps one record per control, keyed by control id.
// Instructions are data; they are never stored or loaded as code.
type InstructionStore interface {
	// Save inserts or replaces the record for rec.ControlID.
	Save(ctx context.Context, rec InstructionRecord) error

	// Get returns the record for controlID or an error wrapping ErrNotFound.
	Get(ctx context.Context, controlID string) (InstructionRecord, error)

	// List returns every record ordered by control id.
	List(ctx context.Context) ([]InstructionRecord, error)

	// Delete removes the record for controlID. Missing ids are not an error.
	Delete(ctx context.Context, controlID string) error
}
