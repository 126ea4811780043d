package llm

import (
	"sync"

	"github.com/ahrav/go-warden/internal/ports"
)

// DefaultMaxTokens caps generation when the caller does not specify a limit.
const DefaultMaxTokens = 1024

// BaseProvider provides common, thread-safe functionality for all LLM providers,
// primarily for managing the model name.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the name of the model currently configured for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions represents a standardized set of configuration parameters for an LLM request.
type RequestOptions struct {
	// MaxTokens specifies the maximum number of tokens to generate.
	MaxTokens int
	// Model is the identifier of the language model to use for the request.
	Model string
	// Temperature controls the randomness of the output.
	// A nil value indicates that the provider's default should be used.
	Temperature *float64
	// TopP is nucleus sampling; nil means provider default.
	TopP *float64
	// System provides instructions that frame the whole request.
	System string
	// Attachments are the images sent alongside the prompt.
	Attachments []ports.Attachment
	// Extra holds any provider-specific options that are not part of the standardized set.
	Extra map[string]any
}

// HasAttachments reports whether the request carries images.
func (o RequestOptions) HasAttachments() bool { return len(o.Attachments) > 0 }

// ParseRequestOptions extracts and validates LLM request parameters from a map.
// Missing or invalid entries fall back to defaults; unrecognized options are
// collected into the Extra field.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		System:    ExtractOptionalString(opts, "system", "", nil),
		Extra:     make(map[string]any),
	}

	if temp := ExtractOptionalFloat64(opts, "temperature", -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	if topP := ExtractOptionalFloat64(opts, "top_p", -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	if atts, ok := opts[OptionAttachments].([]ports.Attachment); ok {
		options.Attachments = atts
	}

	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "system", "temperature", "top_p", OptionAttachments:
		default:
			options.Extra[k] = v
		}
	}

	return options
}

// TokenCounter provides a utility for estimating token counts from text.
type TokenCounter struct {
	// CharactersPerToken represents the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a new TokenCounter with a default character-per-token ratio.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{
		CharactersPerToken: 4.0,
	}
}

// EstimateTokens calculates an estimated token count for a given string of text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount returns the actual token count if it is available and positive.
// Otherwise, it falls back to estimating the count based on the provided text.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
