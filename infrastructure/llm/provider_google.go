package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-warden/internal/ports"
)

// Google provider constants define model names and other provider-specific
// values.
const (
	// GoogleDefaultModel is the default model for the Google provider.
	GoogleDefaultModel = "gemini-2.0-flash"
)

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
// Images are sent as inline byte parts ahead of the prompt text.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newGoogleProvider creates a new Google Gemini provider instance using API
// key authentication against the Gemini API backend.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: ValidateTimeout(config.Timeout)}
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: validatedURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends a request to the Google Gemini API and returns the response.
func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	contents := p.buildContents(prompt, options)
	config := p.buildGenerationConfig(options)

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, config)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return "", 0, 0, p.errorClassifier.InvalidResponse(ErrEmptyResponse)
	}

	var promptTokens, outputTokens int
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return content,
		p.tokenCounter.GetTokenCount(promptTokens, prompt),
		p.tokenCounter.GetTokenCount(outputTokens, content),
		nil
}

// buildContents creates a single user turn holding any inline images
// followed by the prompt text.
func (p *googleProvider) buildContents(prompt string, options RequestOptions) []*genai.Content {
	parts := make([]*genai.Part, 0, len(options.Attachments)+1)
	for _, att := range options.Attachments {
		mimeType := att.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(att.Data, mimeType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildGenerationConfig maps standardized options onto Gemini's config.
func (p *googleProvider) buildGenerationConfig(options RequestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if options.System != "" {
		config.SystemInstruction = genai.NewContentFromText(options.System, genai.RoleUser)
	}

	if options.Temperature != nil {
		config.Temperature = genai.Ptr(float32(ClampFloat64(*options.Temperature, 0.0, 2.0)))
	}

	if options.MaxTokens > 0 {
		if options.MaxTokens > math.MaxInt32 {
			config.MaxOutputTokens = math.MaxInt32
		} else {
			config.MaxOutputTokens = int32(options.MaxTokens)
		}
	}

	if options.TopP != nil {
		config.TopP = genai.Ptr(float32(ClampFloat64(*options.TopP, 0.0, 1.0)))
	}

	if format, ok := options.Extra["response_format"].(string); ok && format == "json_object" {
		config.ResponseMIMEType = "application/json"
	}

	return config
}

// handleError classifies Google API errors.
func (p *googleProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyTransportError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}
		if message == "" {
			message = apiErr.Body
		}

		remote := p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
		if containsContentPolicyError(apiErr) {
			remote.Kind = ports.KindContentPolicy
		}
		return remote
	}

	return p.errorClassifier.ClassifyTransportError(err)
}

// containsContentPolicyError checks if a Google API error is related to
// content policy violations.
func containsContentPolicyError(apiErr *googleapi.Error) bool {
	lower := strings.ToLower(apiErr.Message)
	if strings.Contains(lower, "safety") || strings.Contains(lower, "blocked") {
		return true
	}

	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}

	return false
}
