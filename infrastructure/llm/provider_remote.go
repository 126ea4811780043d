package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Remote provider constants.
const (
	// RemoteDefaultModel labels requests when the service does not name its
	// model.
	RemoteDefaultModel = "remote-vlm"

	// remoteMaxBodyBytes bounds how much of a response body is read.
	remoteMaxBodyBytes = 4 << 20
)

func init() {
	RegisterProviderFactory("remote", newRemoteProvider)
}

// remoteProvider talks to a self-hosted vision-language model exposed as a
// single multipart endpoint. The form carries "prompt", "max_new_tokens" and
// zero or more "images" file parts; the reply is {"response": "..."}.
type remoteProvider struct {
	BaseProvider
	endpoint        string
	apiKey          string
	httpClient      *http.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

type remoteResponse struct {
	Response string `json:"response"`
}

// newRemoteProvider creates a provider for the multipart inference endpoint.
// BaseURL is the full endpoint URL; APIKey, when set, is sent as a bearer
// token.
func newRemoteProvider(config ClientConfig) (CoreLLM, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("remote: %w", ErrMissingBaseURL)
	}
	endpoint, err := ValidateBaseURL(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	model := config.Model
	if model == "" {
		model = RemoteDefaultModel
	}

	return &remoteProvider{
		BaseProvider:    BaseProvider{model: model},
		endpoint:        endpoint,
		apiKey:          config.APIKey,
		httpClient:      &http.Client{Timeout: ValidateTimeout(config.Timeout)},
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "remote"},
	}, nil
}

// DoRequest posts the prompt and attachments and returns the model's reply.
// The call is made exactly once.
func (p *remoteProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	fullPrompt := prompt
	if options.System != "" {
		fullPrompt = options.System + "\n\n" + prompt
	}

	body, contentType, err := buildRemoteForm(fullPrompt, options)
	if err != nil {
		return "", 0, 0, p.errorClassifier.ClassifyTransportError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", 0, 0, p.errorClassifier.ClassifyTransportError(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, p.errorClassifier.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, remoteMaxBodyBytes))
	if err != nil {
		return "", 0, 0, p.errorClassifier.ClassifyTransportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, 0, p.errorClassifier.ClassifyHTTPError(resp.StatusCode, string(raw), nil)
	}

	var decoded remoteResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", 0, 0, p.errorClassifier.InvalidResponse(fmt.Errorf("decode response: %w", err))
	}
	if decoded.Response == "" {
		return "", 0, 0, p.errorClassifier.InvalidResponse(ErrEmptyResponse)
	}

	return decoded.Response,
		p.tokenCounter.EstimateTokens(fullPrompt),
		p.tokenCounter.EstimateTokens(decoded.Response),
		nil
}

func buildRemoteForm(prompt string, options RequestOptions) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("prompt", prompt); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("max_new_tokens", strconv.Itoa(options.MaxTokens)); err != nil {
		return nil, "", err
	}

	for i, att := range options.Attachments {
		name := att.Name
		if name == "" {
			name = fmt.Sprintf("image_%d", i)
		}
		mimeType := att.MIMEType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="images"; filename="%s"`, escapeQuotes(name)))
		header.Set("Content-Type", mimeType)

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
