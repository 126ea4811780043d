package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-warden/internal/ports"
)

// MockCoreLLM provides a configurable CoreLLM for middleware and provider
// chain tests.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	CallCount       int
	LastPrompt      string
	LastOpts        map[string]any
	LastAttachments []ports.Attachment
	LastContext     context.Context
	CallTimestamps  []time.Time
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastOpts = opts
	m.LastAttachments, _ = opts[OptionAttachments].([]ports.Attachment)
	m.LastContext = ctx
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ports.NewTransportError("mock", ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		if m.Error != nil {
			return "", 0, 0, m.Error
		}
		return "", 0, 0, &testError{message: "simulated failure"}
	}
	if m.FailUntilAttempt == 0 && m.Error != nil {
		return "", 0, 0, m.Error
	}

	return m.Response, m.TokensIn, m.TokensOut, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

type testError struct {
	message string
}

func (e *testError) Error() string {
	return e.message
}
