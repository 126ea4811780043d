package llm

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-warden/internal/ports"
)

// Registry builds and caches LLM clients per "provider/model" pair, applying
// shared defaults for timeout and middleware.
type Registry struct {
	providers         map[string]ProviderConfig
	clients           map[string]ports.LLMClient
	defaultProvider   string
	defaultMiddleware []Middleware
	defaultTimeout    time.Duration
	mu                sync.RWMutex
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type specifies the provider implementation type.
	Type string
	// EnvVar names the environment variable holding the API key.
	EnvVar string
	// KeyOptional allows client creation without an API key.
	KeyOptional bool
	// DefaultModel is used when the spec names no model.
	DefaultModel string
	// SupportedModels restricts accepted models. Empty accepts any.
	SupportedModels []string
	// BaseURL overrides the default API endpoint.
	BaseURL string
	// Middleware is applied after the registry defaults.
	Middleware []Middleware
}

// RegistryConfig holds configuration for the provider registry.
type RegistryConfig struct {
	Providers         map[string]ProviderConfig
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware
}

// DefaultProviders lists the vision-capable backends the gateway supports.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:            "openai",
		EnvVar:          "OPENAI_API_KEY",
		DefaultModel:    "gpt-4o-mini",
		SupportedModels: []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	"google": {
		Type:            "google",
		EnvVar:          "GOOGLE_API_KEY",
		DefaultModel:    "gemini-2.0-flash",
		SupportedModels: []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"},
	},
	"remote": {
		Type:         "remote",
		EnvVar:       "AUDIT_REMOTE_API_KEY",
		KeyOptional:  true,
		DefaultModel: RemoteDefaultModel,
	},
}

// NewRegistry creates a provider registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, exists := config.Providers[config.DefaultProvider]; !exists {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]ports.LLMClient),
		defaultProvider:   config.DefaultProvider,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
	}, nil
}

// GetDefaultClient returns a client for the default provider and its
// default model.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient retrieves a client by "provider" or "provider/model". Clients are
// created lazily and cached.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	if spec == "" {
		return nil, fmt.Errorf("provider specification cannot be empty; use GetDefaultClient() for default provider")
	}

	provider, model := r.parseSpec(spec)
	key := provider + "/" + model

	r.mu.RLock()
	client, exists := r.clients[key]
	r.mu.RUnlock()
	if exists {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	client, err := r.createClient(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

func (r *Registry) parseSpec(spec string) (provider, model string) {
	provider, model, _ = strings.Cut(spec, "/")
	if model == "" {
		if cfg, ok := r.providers[provider]; ok {
			model = cfg.DefaultModel
		}
	}
	return provider, model
}

func (r *Registry) createClient(provider, model string) (ports.LLMClient, error) {
	providerConfig, exists := r.providers[provider]
	if !exists {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if len(providerConfig.SupportedModels) > 0 && !slices.Contains(providerConfig.SupportedModels, model) {
		return nil, fmt.Errorf("model %q is not supported by provider %q. Supported models: %v",
			model, provider, providerConfig.SupportedModels)
	}

	apiKey := os.Getenv(providerConfig.EnvVar)
	if apiKey == "" && !providerConfig.KeyOptional {
		return nil, fmt.Errorf("%s environment variable not set for provider %q", providerConfig.EnvVar, provider)
	}

	config := ClientConfig{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: providerConfig.BaseURL,
		Timeout: r.defaultTimeout,
	}
	config.Middleware = append([]Middleware{}, r.defaultMiddleware...)
	config.Middleware = append(config.Middleware, providerConfig.Middleware...)

	return NewClient(providerConfig.Type, config)
}
