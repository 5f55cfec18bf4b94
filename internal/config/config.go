// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.grounded/config.yaml)
//  3. Default values
//
// The configuration is loaded and validated exactly once at process start
// and the resulting Config value is passed explicitly into every component
// constructor. No component re-reads configuration mid-operation.
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

// Retrieval strategy names accepted in Config.Retrieval.Strategy.
const (
	StrategySimilarity = "similarity"
	StrategyMMR        = "mmr"
	StrategyHybrid     = "hybrid"
)

// Vector store backend names accepted in Config.Stores.
const (
	StorePgvector = "pgvector"
	StoreQdrant   = "qdrant"
	StoreMemory   = "memory"
)

// RetrievalConfig holds the strategy selection and its parameters.
type RetrievalConfig struct {
	Strategy    string  `mapstructure:"strategy" json:"strategy"`         // similarity, mmr, hybrid
	TopK        int     `mapstructure:"top_k" json:"top_k"`               // results per query
	FetchK      int     `mapstructure:"fetch_k" json:"fetch_k"`           // oversampled pool size for MMR
	MMRLambda   float64 `mapstructure:"mmr_lambda" json:"mmr_lambda"`     // relevance/diversity trade-off in [0,1]
	HybridAlpha float64 `mapstructure:"hybrid_alpha" json:"hybrid_alpha"` // vector weight in [0,1]
}

// IngestConfig holds chunking and embedding pipeline parameters.
type IngestConfig struct {
	ChunkSize      int `mapstructure:"chunk_size" json:"chunk_size"`           // window size in runes
	ChunkOverlap   int `mapstructure:"chunk_overlap" json:"chunk_overlap"`     // overlap in runes, must be < chunk_size
	EmbedBatchSize int `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedParallel  int `mapstructure:"embed_parallel" json:"embed_parallel"`   // max concurrent embedding batches
	MaxRetries     int `mapstructure:"max_retries" json:"max_retries"`         // per-chunk retries after a batch failure
}

// BudgetConfig bounds prompt assembly.
type BudgetConfig struct {
	PromptTokens  int `mapstructure:"prompt_tokens" json:"prompt_tokens"`   // hard ceiling for the assembled prompt
	ContextTokens int `mapstructure:"context_tokens" json:"context_tokens"` // sub-budget for retrieved chunks
	HistoryTokens int `mapstructure:"history_tokens" json:"history_tokens"` // sub-budget for prior turns
}

// SessionConfig controls conversation session lifecycle.
type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
}

// TimeoutConfig holds per-call timeouts for the external collaborators.
type TimeoutConfig struct {
	Embed    time.Duration `mapstructure:"embed" json:"embed"`
	Query    time.Duration `mapstructure:"query" json:"query"`
	Generate time.Duration `mapstructure:"generate" json:"generate"`
}

// PostgresConfig holds pgvector store connection parameters.
type PostgresConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"` // SENSITIVE: masked in String()
	DBName   string `mapstructure:"db_name" json:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode" json:"ssl_mode"`
}

// DSN returns the connection string for pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// QdrantConfig holds qdrant store connection parameters.
type QdrantConfig struct {
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"` // gRPC port
	Collection string `mapstructure:"collection" json:"collection"`
}

// StoresConfig selects the primary store and the ordered fallback chain.
type StoresConfig struct {
	Primary   string   `mapstructure:"primary" json:"primary"`
	Fallbacks []string `mapstructure:"fallbacks" json:"fallbacks"`

	Postgres PostgresConfig `mapstructure:"postgres" json:"postgres"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant" json:"qdrant"`
}

// Config is the immutable application configuration.
type Config struct {
	// Ollama backend shared by the embedding and LLM providers.
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`
	ModelName  string `mapstructure:"model_name" json:"model_name"`
	EmbedModel string `mapstructure:"embed_model" json:"embed_model"`
	EmbedDim   int    `mapstructure:"embed_dim" json:"embed_dim"`

	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`
	Ingest    IngestConfig    `mapstructure:"ingest" json:"ingest"`
	Budget    BudgetConfig    `mapstructure:"budget" json:"budget"`
	Session   SessionConfig   `mapstructure:"session" json:"session"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts" json:"timeouts"`
	Stores    StoresConfig    `mapstructure:"stores" json:"stores"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".grounded")
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
		// A missing config file is not an error; defaults apply.
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("model_name", "llama3.2")
	v.SetDefault("embed_model", "nomic-embed-text")
	v.SetDefault("embed_dim", 768)

	v.SetDefault("retrieval.strategy", StrategySimilarity)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.fetch_k", 20)
	v.SetDefault("retrieval.mmr_lambda", 0.5)
	v.SetDefault("retrieval.hybrid_alpha", 0.5)

	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.embed_batch_size", 16)
	v.SetDefault("ingest.embed_parallel", 4)
	v.SetDefault("ingest.max_retries", 3)

	v.SetDefault("budget.prompt_tokens", 8000)
	v.SetDefault("budget.context_tokens", 3000)
	v.SetDefault("budget.history_tokens", 3000)

	v.SetDefault("session.idle_timeout", 30*time.Minute)

	v.SetDefault("timeouts.embed", 30*time.Second)
	v.SetDefault("timeouts.query", 10*time.Second)
	v.SetDefault("timeouts.generate", 2*time.Minute)

	v.SetDefault("stores.primary", StorePgvector)
	v.SetDefault("stores.fallbacks", []string{})
	v.SetDefault("stores.postgres.host", "localhost")
	v.SetDefault("stores.postgres.port", 5432)
	v.SetDefault("stores.postgres.user", "grounded")
	v.SetDefault("stores.postgres.password", "grounded_dev_password")
	v.SetDefault("stores.postgres.db_name", "grounded")
	v.SetDefault("stores.postgres.ssl_mode", "disable")
	v.SetDefault("stores.qdrant.host", "localhost")
	v.SetDefault("stores.qdrant.port", 6334)
	v.SetDefault("stores.qdrant.collection", "grounded_chunks")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ollama_host", "GROUNDED_OLLAMA_HOST")
	mustBind("model_name", "GROUNDED_MODEL_NAME")
	mustBind("embed_model", "GROUNDED_EMBED_MODEL")
	mustBind("retrieval.strategy", "GROUNDED_RETRIEVAL_STRATEGY")
	mustBind("stores.primary", "GROUNDED_STORE_PRIMARY")
	mustBind("stores.postgres.password", "GROUNDED_POSTGRES_PASSWORD")
	mustBind("stores.postgres.host", "GROUNDED_POSTGRES_HOST")
	mustBind("stores.qdrant.host", "GROUNDED_QDRANT_HOST")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// String implements Stringer so accidental printing never leaks the
// database password.
func (c Config) String() string {
	masked := c
	if masked.Stores.Postgres.Password != "" {
		masked.Stores.Postgres.Password = maskedValue
	}
	return fmt.Sprintf("%+v", struct {
		OllamaHost string
		ModelName  string
		EmbedModel string
		Primary    string
		Strategy   string
	}{masked.OllamaHost, masked.ModelName, masked.EmbedModel,
		masked.Stores.Primary, masked.Retrieval.Strategy})
}
