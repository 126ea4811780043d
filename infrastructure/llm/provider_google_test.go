package llm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/ahrav/go-warden/internal/ports"
)

func newTestGoogleProvider(t *testing.T) *googleProvider {
	t.Helper()
	core, err := newGoogleProvider(ClientConfig{APIKey: "k"})
	require.NoError(t, err)
	return core.(*googleProvider)
}

func TestNewGoogleProvider(t *testing.T) {
	_, err := newGoogleProvider(ClientConfig{})
	require.ErrorIs(t, err, ErrEmptyAPIKey)

	p := newTestGoogleProvider(t)
	assert.Equal(t, GoogleDefaultModel, p.GetModel())
}

func TestGoogleProvider_BuildContents(t *testing.T) {
	p := newTestGoogleProvider(t)
	options := ParseRequestOptions(map[string]any{
		OptionAttachments: []ports.Attachment{
			{MIMEType: "image/png", Data: []byte{1}},
			{Data: []byte{2}},
		},
	}, p.GetModel())

	contents := p.buildContents("inspect", options)
	require.Len(t, contents, 1)
	parts := contents[0].Parts
	require.Len(t, parts, 3)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	assert.Equal(t, "inspect", parts[2].Text)
}

func TestGoogleProvider_BuildGenerationConfig(t *testing.T) {
	p := newTestGoogleProvider(t)
	options := ParseRequestOptions(map[string]any{
		"system":          "auditor",
		"max_tokens":      200,
		"temperature":     0.5,
		"response_format": "json_object",
	}, p.GetModel())

	cfg := p.buildGenerationConfig(options)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, int32(200), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, *cfg.Temperature, 1e-6)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
}

func TestGoogleProvider_HandleError(t *testing.T) {
	p := newTestGoogleProvider(t)

	err := p.handleError(&googleapi.Error{Code: http.StatusForbidden, Message: "bad key"})
	var remote *ports.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ports.KindAuthentication, remote.Kind)
	assert.Equal(t, "bad key", remote.Body)

	err = p.handleError(&googleapi.Error{Code: http.StatusBadRequest, Message: "Response blocked by safety filters"})
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ports.KindContentPolicy, remote.Kind)

	err = p.handleError(assert.AnError)
	var transport *ports.TransportError
	require.ErrorAs(t, err, &transport)
}
