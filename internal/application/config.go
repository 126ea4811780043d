// Package application wires the audit components into the service's use
// cases: compiling and storing control instructions, evaluating evidence
// for a control, and running scoped chat sessions.
package application

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-warden/infrastructure/audit"
	"github.com/ahrav/go-warden/infrastructure/chat"
	"github.com/ahrav/go-warden/infrastructure/storage"
	"github.com/ahrav/go-warden/internal/ports"
)

// Config is the complete service configuration. It is read from YAML,
// overlaid with environment variables and validated once at startup.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Log        LogConfig             `yaml:"log"`
	LLM        LLMConfig             `yaml:"llm"`
	Compiler   audit.CompilerConfig  `yaml:"compiler"`
	Evaluation audit.EvaluatorConfig `yaml:"evaluation"`
	Chat       ChatConfig            `yaml:"chat"`
	Storage    storage.Config        `yaml:"storage"`
	Store      StoreConfig           `yaml:"store"`
	Download   DownloadConfig        `yaml:"download"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
	// MaxUploadBytes caps multipart request bodies.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"min=1024"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// LLMConfig selects and shapes the inference gateway.
type LLMConfig struct {
	// Provider names the backend: openai, anthropic, google or remote.
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic google remote"`
	// Model overrides the provider default.
	Model string `yaml:"model"`
	// BaseURL overrides the provider endpoint. Required for remote.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Timeout bounds every gateway call.
	Timeout            time.Duration `yaml:"timeout" validate:"min=0"`
	RateLimit          float64       `yaml:"rate_limit" validate:"min=0"`
	RateBurst          int           `yaml:"rate_burst" validate:"min=0"`
	CircuitMaxFailures int           `yaml:"circuit_max_failures" validate:"min=0"`
	CircuitCooldown    time.Duration `yaml:"circuit_cooldown" validate:"min=0"`
}

// ChatConfig extends chat generation settings with session lifetime.
type ChatConfig struct {
	chat.Config `yaml:",inline"`

	SessionTTL    time.Duration `yaml:"session_ttl" validate:"min=0"`
	SweepSchedule string        `yaml:"sweep_schedule" validate:"omitempty,cronspec"`
}

// StoreConfig locates the instruction database.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path" validate:"required"`
}

// DownloadConfig bounds evidence downloads.
type DownloadConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"min=0"`
	MaxBytes       int64         `yaml:"max_bytes" validate:"min=1"`
	MaxConcurrency int           `yaml:"max_concurrency" validate:"min=1,max=64"`
}

// DefaultConfig returns a configuration that runs locally against the
// remote inference service.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  64 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:           "remote",
			Timeout:            120 * time.Second,
			RateLimit:          5,
			RateBurst:          10,
			CircuitMaxFailures: 5,
			CircuitCooldown:    30 * time.Second,
		},
		Compiler:   audit.DefaultCompilerConfig(),
		Evaluation: audit.DefaultEvaluatorConfig(),
		Chat: ChatConfig{
			Config:        chat.DefaultConfig(),
			SessionTTL:    chat.DefaultSessionTTL,
			SweepSchedule: chat.DefaultSweepSchedule,
		},
		Storage: storage.Config{Type: storage.TypeLocal, LocalPath: "./data/blobs"},
		Store:   StoreConfig{SQLitePath: "./data/audit.db"},
		Download: DownloadConfig{
			Timeout:        30 * time.Second,
			MaxBytes:       20 << 20,
			MaxConcurrency: 8,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (optional when empty), a .env file in the working directory (optional)
// and the process environment, in that order of precedence.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, ports.NewConfigError(path, ports.ErrConfigNotFound)
			}
			return Config{}, ports.NewConfigError(path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, ports.NewConfigError(path, fmt.Errorf("parse yaml: %w", err))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, ports.NewConfigError(".env", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c Config) Validate() error {
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return ports.NewConfigError("config", fmt.Errorf("validation failed: %w", err))
	}
	if c.LLM.Provider == "remote" && c.LLM.BaseURL == "" {
		return ports.NewConfigError("llm.base_url", errors.New("required for the remote provider (set AUDIT_REMOTE_URL)"))
	}
	return nil
}

// envBindings maps environment variables onto configuration fields.
var envBindings = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"AUDIT_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"AUDIT_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"AUDIT_LLM_PROVIDER", func(c *Config, v string) error { c.LLM.Provider = v; return nil }},
	{"AUDIT_LLM_MODEL", func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{"AUDIT_REMOTE_URL", func(c *Config, v string) error { c.LLM.BaseURL = v; return nil }},
	{"AUDIT_LLM_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.LLM.Timeout, v) }},
	{"AUDIT_CHAT_HISTORY_LIMIT", func(c *Config, v string) error { return setInt(&c.Chat.HistoryLimit, v) }},
	{"AUDIT_EVAL_CONCURRENCY", func(c *Config, v string) error { return setInt(&c.Evaluation.MaxConcurrency, v) }},
	{"STORAGE_TYPE", func(c *Config, v string) error { c.Storage.Type = storage.Type(v); return nil }},
	{"STORAGE_LOCAL_PATH", func(c *Config, v string) error { c.Storage.LocalPath = v; return nil }},
	{"AWS_S3_BUCKET", func(c *Config, v string) error { c.Storage.S3Bucket = v; return nil }},
	{"AWS_REGION", func(c *Config, v string) error { c.Storage.S3Region = v; return nil }},
	{"AWS_S3_ENDPOINT", func(c *Config, v string) error { c.Storage.S3Endpoint = v; return nil }},
	{"AWS_ACCESS_KEY_ID", func(c *Config, v string) error { c.Storage.AWSAccessKey = v; return nil }},
	{"AWS_SECRET_ACCESS_KEY", func(c *Config, v string) error { c.Storage.AWSSecretKey = v; return nil }},
	{"AUDIT_SQLITE_PATH", func(c *Config, v string) error { c.Store.SQLitePath = v; return nil }},
}

func applyEnv(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return ports.NewConfigError(b.name, err)
		}
	}
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// LogLevel maps the configured level onto slog.
func (l LogConfig) LogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
