package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic provider constants
const (
	// AnthropicDefaultModel is the default Anthropic model (Claude 3.5 Sonnet)
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's Claude API.
// Images travel as base64 image blocks ahead of the text block.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyAPIKey)
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	// The SDK retries by default; the gateway makes exactly one attempt.
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: ValidateTimeout(config.Timeout)}))
	}

	return &anthropicProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          anthropic.NewClient(opts...),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest sends a request to Anthropic's Claude API and returns the response.
func (p *anthropicProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	params := p.buildAnthropicParams(prompt, options)

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	return p.processResponse(message, prompt)
}

// buildAnthropicParams creates the API request parameters.
func (p *anthropicProvider) buildAnthropicParams(prompt string, options RequestOptions) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(options.Attachments)+1)
	for _, att := range options.Attachments {
		mediaType := att.MIMEType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(att.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	if options.Temperature != nil {
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, 0.0, 1.0))
	}

	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}

	return params
}

// processResponse extracts content and token counts from the API response.
func (p *anthropicProvider) processResponse(message *anthropic.Message, originalPrompt string) (string, int, int, error) {
	var responseText strings.Builder
	for _, block := range message.Content {
		if content, ok := block.AsAny().(anthropic.TextBlock); ok {
			responseText.WriteString(content.Text)
		}
	}

	responseStr := responseText.String()
	if responseStr == "" {
		return "", 0, 0, p.errorClassifier.InvalidResponse(ErrEmptyResponse)
	}

	tokensIn := p.tokenCounter.GetTokenCount(int(message.Usage.InputTokens), originalPrompt)
	tokensOut := p.tokenCounter.GetTokenCount(int(message.Usage.OutputTokens), responseStr)

	return responseStr, tokensIn, tokensOut, nil
}

// handleError classifies Anthropic SDK errors.
func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyTransportError(err)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return p.errorClassifier.ClassifyHTTPError(anthropicErr.StatusCode, anthropicErr.Error(), err)
	}

	return p.errorClassifier.ClassifyTransportError(err)
}
