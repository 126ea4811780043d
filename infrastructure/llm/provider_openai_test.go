package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-warden/internal/ports"
)

// openAIRequest captures the parts of a chat completion request the tests
// inspect.
type openAIRequest struct {
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type openAIPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

func openAICompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
	}
}

// TestOpenAIProvider_DoRequestWithImages verifies that attachments become
// data URL image parts and that JSON mode is requested.
func TestOpenAIProvider_DoRequestWithImages(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openAICompletion(`{"compliance_status":"COMPLIANT"}`))
	}))
	defer server.Close()

	p, err := newOpenAIProvider(ClientConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	resp, in, out, err := p.DoRequest(context.Background(), "evaluate", map[string]any{
		"system":          "auditor",
		"max_tokens":      300,
		"response_format": "json_object",
		OptionAttachments: []ports.Attachment{{MIMEType: "image/png", Data: []byte{0x89, 0x50}}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"compliance_status":"COMPLIANT"}`, resp)
	assert.Equal(t, 12, in)
	assert.Equal(t, 7, out)

	assert.Equal(t, OpenAIDefaultModel, captured.Model)
	assert.Equal(t, 300, captured.MaxTokens)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)

	var parts []openAIPart
	require.NoError(t, json.Unmarshal(captured.Messages[1].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "evaluate", parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,iVA=", parts[1].ImageURL.URL)
}

func TestOpenAIProvider_TextOnlyRequest(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openAICompletion("hello"))
	}))
	defer server.Close()

	p, err := newOpenAIProvider(ClientConfig{APIKey: "k", BaseURL: server.URL + "/v1", Model: "gpt-4o"})
	require.NoError(t, err)

	resp, _, _, err := p.DoRequest(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp)
	assert.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 1)
	assert.JSONEq(t, `"hi"`, string(captured.Messages[0].Content))
	assert.Nil(t, captured.ResponseFormat)
}

func TestOpenAIProvider_ErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	p, err := newOpenAIProvider(ClientConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, _, _, err = p.DoRequest(context.Background(), "hi", nil)
	var remote *ports.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusTooManyRequests, remote.StatusCode)
	assert.Equal(t, ports.KindRateLimit, remote.Kind)
	assert.Equal(t, "slow down", remote.Body)
}

func TestNewOpenAIProvider_Validation(t *testing.T) {
	_, err := newOpenAIProvider(ClientConfig{})
	require.ErrorIs(t, err, ErrEmptyAPIKey)

	_, err = newOpenAIProvider(ClientConfig{APIKey: "k", BaseURL: "not a url"})
	require.Error(t, err)

	p, err := newOpenAIProvider(ClientConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, OpenAIDefaultModel, p.GetModel())
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,AQI=", dataURL("", []byte{1, 2}))
	assert.Equal(t, "data:image/webp;base64,AQI=", dataURL("image/webp", []byte{1, 2}))
}
