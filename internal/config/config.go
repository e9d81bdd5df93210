// Package config provides application configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables (runtime override)
//  2. Config file (~/.maestro/config.yaml, or ./config.yaml)
//  3. Default values
//
// Categories:
//   - Model: provider, model name, temperature, token budget
//   - Classifier: the short capability-matching call
//   - Orchestrator: tool-loop iteration bound
//   - Retrieval: top-N, strictness scale, scope behavior
//   - Storage: PostgreSQL connection (see storage.go)
//   - Remotes: external capability servers (see remotes.go)
//   - Tracing: OTLP export (consumed by internal/observability)
//
// Validation is fail-fast in Load; sentinel errors support errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates a temperature outside [0, 2].
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates a non-positive token budget.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxIterations indicates a non-positive tool-loop bound.
	ErrInvalidMaxIterations = errors.New("invalid max iterations")

	// ErrInvalidTimeout indicates a non-positive timeout.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidStrictness indicates a strictness level outside its scale.
	ErrInvalidStrictness = errors.New("invalid strictness")

	// ErrInvalidTopN indicates a non-positive retrieval result count.
	ErrInvalidTopN = errors.New("invalid top n")

	// ErrInvalidPostgresHost indicates an empty PostgreSQL host.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates a PostgreSQL port outside 1-65535.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidRemote indicates a remote connection entry that cannot work.
	ErrInvalidRemote = errors.New("invalid remote connection")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// ClassifierConfig bounds the capability-matching call separately from the
// main completion: it is a cheap gate and must stay cheap.
type ClassifierConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	MaxTokens      int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature" json:"temperature"`
}

// Timeout returns the classifier timeout as a duration.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetrievalConfig holds the knowledge-search defaults. Strictness is an
// integer level on a configurable scale, converted to a score threshold as
// level/max.
type RetrievalConfig struct {
	TopN          int    `mapstructure:"top_n" json:"top_n"`
	Strictness    int    `mapstructure:"strictness" json:"strictness"`
	StrictnessMax int    `mapstructure:"strictness_max" json:"strictness_max"`
	InScopeOnly   bool   `mapstructure:"in_scope_only" json:"in_scope_only"`
	Provider      string `mapstructure:"provider" json:"provider"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
type Config struct {
	// Model provider and generation settings
	Provider    string  `mapstructure:"provider" json:"provider"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// MaxIterations bounds the tool-invocation loop within one turn.
	MaxIterations int `mapstructure:"max_iterations" json:"max_iterations"`

	// RequestsPerSecond throttles model calls. Zero disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`

	Classifier ClassifierConfig `mapstructure:"classifier" json:"classifier"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval" json:"retrieval"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Remote capability servers (see remotes.go)
	Remotes []RemoteConfig `mapstructure:"remotes" json:"remotes"`

	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".maestro")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides individual postgres_* values.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("max_iterations", 5)
	v.SetDefault("requests_per_second", 0)

	v.SetDefault("classifier.timeout_seconds", 5)
	v.SetDefault("classifier.max_tokens", 256)
	v.SetDefault("classifier.temperature", 0.0)

	v.SetDefault("retrieval.top_n", 5)
	v.SetDefault("retrieval.strictness", 3)
	v.SetDefault("retrieval.strictness_max", 5)
	v.SetDefault("retrieval.in_scope_only", false)
	v.SetDefault("retrieval.provider", "pgvector")
	v.SetDefault("retrieval.embedder_model", "gemini-embedding-001")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "maestro")
	v.SetDefault("postgres_password", "maestro_dev_password")
	v.SetDefault("postgres_db_name", "maestro")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "maestro")
	v.SetDefault("tracing.environment", "dev")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds runtime overrides explicitly. Model API keys
// (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the genkit plugins,
// not through viper; Validate checks their presence per provider.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "MAESTRO_PROVIDER")
	mustBind("model_name", "MAESTRO_MODEL_NAME")
	mustBind("max_iterations", "MAESTRO_MAX_ITERATIONS")
	mustBind("requests_per_second", "MAESTRO_REQUESTS_PER_SECOND")
	mustBind("log_level", "MAESTRO_LOG_LEVEL")
	mustBind("log_json", "MAESTRO_LOG_JSON")
	mustBind("tracing.enabled", "MAESTRO_TRACING_ENABLED")
	mustBind("tracing.endpoint", "MAESTRO_TRACING_ENDPOINT")
}
