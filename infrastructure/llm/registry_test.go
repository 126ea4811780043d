package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Providers: DefaultProviders})
	require.Error(t, err)

	_, err = NewRegistry(RegistryConfig{Providers: DefaultProviders, DefaultProvider: "nope"})
	require.Error(t, err)
}

func TestRegistry_GetClient(t *testing.T) {
	providers := map[string]ProviderConfig{
		"remote": {
			Type:         "remote",
			EnvVar:       "WARDEN_TEST_REMOTE_KEY",
			KeyOptional:  true,
			DefaultModel: RemoteDefaultModel,
			BaseURL:      "http://localhost:9999/generate",
		},
		"openai": {
			Type:            "openai",
			EnvVar:          "WARDEN_TEST_OPENAI_KEY",
			DefaultModel:    "gpt-4o-mini",
			SupportedModels: []string{"gpt-4o-mini"},
		},
	}
	registry, err := NewRegistry(RegistryConfig{
		Providers:         providers,
		DefaultProvider:   "remote",
		DefaultTimeout:    time.Second,
		DefaultMiddleware: []Middleware{TimeoutMiddleware(time.Second)},
	})
	require.NoError(t, err)

	client, err := registry.GetDefaultClient()
	require.NoError(t, err)
	assert.Equal(t, RemoteDefaultModel, client.GetModel())

	again, err := registry.GetClient("remote")
	require.NoError(t, err)
	assert.Same(t, client, again, "clients are cached per provider/model")

	_, err = registry.GetClient("openai")
	require.Error(t, err, "missing API key")

	t.Setenv("WARDEN_TEST_OPENAI_KEY", "k")
	_, err = registry.GetClient("openai/gpt-3")
	require.Error(t, err, "unsupported model")

	oa, err := registry.GetClient("openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", oa.GetModel())

	_, err = registry.GetClient("")
	require.Error(t, err)
	_, err = registry.GetClient("unknown")
	require.Error(t, err)
}
