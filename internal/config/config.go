// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.fred/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: chat model and embedder selection (see ai defaults below)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Ingestion: chunk size/overlap for document splitting
//   - Retrieval: number of chunks returned per search
//   - Serve: HTTP address and CORS origins
//
// Security: sensitive data (passwords) are never logged; MarshalJSON masks
// them explicitly.
//
// Error Handling:
//   - Sentinel errors for Go-idiomatic checks with errors.Is()
//   - Wrapped with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// text-embedding-004 outputs 768 dimensions, matching the pgvector
	// schema in db/migrations (see docstore.VectorDimension).
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between consecutive chunks in runes.
	DefaultChunkOverlap = 100

	// DefaultRetrievalTopK is the number of chunks returned per search.
	DefaultRetrievalTopK = 4
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`
	ModelName string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash"

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingestion configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	RetrievalTopK int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Dependency timeouts in milliseconds. Every outbound call (embedding,
	// generation, vector search, checkpoint commit) runs under one of these
	// deadlines; an unbounded call would stall the per-thread turn lock.
	EmbedTimeoutMs    int `mapstructure:"embed_timeout_ms" json:"embed_timeout_ms"`
	GenerateTimeoutMs int `mapstructure:"generate_timeout_ms" json:"generate_timeout_ms"`
	SearchTimeoutMs   int `mapstructure:"search_timeout_ms" json:"search_timeout_ms"`
	PersistTimeoutMs  int `mapstructure:"persist_timeout_ms" json:"persist_timeout_ms"`

	// Serve configuration
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	// Configuration directory: ~/.fred/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".fred")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "fred")
	viper.SetDefault("postgres_password", "fred_dev_password")
	viper.SetDefault("postgres_db_name", "fred")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Ingestion defaults
	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)

	// Timeout defaults
	viper.SetDefault("embed_timeout_ms", 10_000)
	viper.SetDefault("generate_timeout_ms", 60_000)
	viper.SetDefault("search_timeout_ms", 10_000)
	viper.SetDefault("persist_timeout_ms", 10_000)

	// Serve defaults
	viper.SetDefault("http_addr", "127.0.0.1:8080")
	viper.SetDefault("cors_origins", []string{"*"})

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via Viper.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "FRED_PROVIDER")
	mustBind("model_name", "FRED_MODEL_NAME")
	mustBind("embedder_model", "FRED_EMBEDDER_MODEL")
	mustBind("http_addr", "FRED_HTTP_ADDR")
	mustBind("cors_origins", "FRED_CORS_ORIGINS")
	mustBind("log_level", "FRED_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// matching; longer secrets show the first and last 2 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
