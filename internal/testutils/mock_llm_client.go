package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-warden/internal/ports"
)

// MockLLMClient implements ports.LLMClient with scripted, deterministic
// replies for tests. Replies are chosen by substring match against the
// prompt (or, for attachment calls, against the attachment name first),
// and every call is recorded for later assertions.
type MockLLMClient struct {
	mu sync.Mutex

	model     string
	responses []MockResponse
	fallback  string

	calls []MockCall
}

// MockResponse scripts the reply for prompts or attachments matching
// Pattern. An empty Pattern matches everything.
type MockResponse struct {
	// Pattern is matched as a substring of the attachment name, then of the
	// prompt.
	Pattern string
	// Response is the text returned for matching calls.
	Response string
	// Err, when set, is returned instead of Response.
	Err error
	// Delay holds the call for this long, or until the context ends.
	Delay time.Duration
}

// MockCall records one request made to the mock.
type MockCall struct {
	Prompt      string
	Attachments []ports.Attachment
	Options     map[string]any
}

// NewMockLLMClient creates a MockLLMClient for model that replies with
// fallback when nothing else matches.
func NewMockLLMClient(model, fallback string) *MockLLMClient {
	return &MockLLMClient{model: model, fallback: fallback}
}

// AddResponse registers a scripted reply. Earlier responses win.
func (m *MockLLMClient) AddResponse(r MockResponse) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m
}

// Complete implements ports.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	return m.CompleteWithAttachments(ctx, prompt, nil, options)
}

// CompleteWithAttachments implements ports.LLMClient.
func (m *MockLLMClient) CompleteWithAttachments(
	ctx context.Context,
	prompt string,
	attachments []ports.Attachment,
	options map[string]any,
) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Attachments: attachments, Options: options})
	r, ok := m.match(prompt, attachments)
	m.mu.Unlock()

	if !ok {
		r = MockResponse{Response: m.fallback}
	}

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ports.NewTransportError("mock", ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return "", ports.NewTransportError("mock", err)
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Response, nil
}

func (m *MockLLMClient) match(prompt string, attachments []ports.Attachment) (MockResponse, bool) {
	for _, r := range m.responses {
		if r.Pattern == "" {
			continue
		}
		for _, att := range attachments {
			if strings.Contains(att.Name, r.Pattern) {
				return r, true
			}
		}
	}
	for _, r := range m.responses {
		if strings.Contains(prompt, r.Pattern) {
			return r, true
		}
	}
	return MockResponse{}, false
}

// EstimateTokens approximates four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return max(len(text)/4, 1), nil
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns a copy of every recorded call in arrival order.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of calls made so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, or false when none was made.
func (m *MockLLMClient) LastCall() (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// ErrMockFailure is a generic scripted failure.
var ErrMockFailure = errors.New("mock failure")

var _ ports.LLMClient = (*MockLLMClient)(nil)
