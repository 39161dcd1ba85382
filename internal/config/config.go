package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/dshills/gochunk/internal/chunker"
	"github.com/dshills/gochunk/internal/embedder"
	"github.com/dshills/gochunk/internal/logger"
)

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreJSONL  = "jsonl"
)

// Config is the runtime configuration, read from the environment
type Config struct {
	// Input documents
	DocsDir  string `env:"GOCHUNK_DOCS_DIR" envDefault:"data/processed"`
	DocsGlob string `env:"GOCHUNK_DOCS_GLOB" envDefault:"**/*.{txt,md}"`
	Clean    bool   `env:"GOCHUNK_CLEAN" envDefault:"true"`

	// Output store
	Store     string `env:"GOCHUNK_STORE" envDefault:"sqlite"`
	DBPath    string `env:"GOCHUNK_DB_PATH" envDefault:"data/chunks/gochunk.db"`
	JSONLPath string `env:"GOCHUNK_JSONL_PATH" envDefault:"data/chunks/chunks.jsonl"`

	// Chunk sizing
	MaxTokens       int    `env:"GOCHUNK_MAX_TOKENS" envDefault:"800"`
	OverlapTokens   int    `env:"GOCHUNK_OVERLAP_TOKENS" envDefault:"100"`
	MinTokens       int    `env:"GOCHUNK_MIN_TOKENS" envDefault:"50"`
	Tokenizer       string `env:"GOCHUNK_TOKENIZER" envDefault:"cl100k_base"`
	SectionMinParts int    `env:"GOCHUNK_SECTION_MIN_PARTS" envDefault:"3"`

	Workers     int    `env:"GOCHUNK_WORKERS" envDefault:"1"`
	SourcesFile string `env:"GOCHUNK_SOURCES_FILE"`

	// Embedding stage
	EmbeddingProvider string `env:"GOCHUNK_EMBEDDING_PROVIDER" envDefault:"local"`
	EmbeddingModel    string `env:"GOCHUNK_EMBEDDING_MODEL"`
	EmbeddingEndpoint string `env:"GOCHUNK_EMBEDDING_ENDPOINT"`
	OpenAIKey         string `env:"OPENAI_API_KEY"`
	JinaKey           string `env:"JINA_API_KEY"`
	EmbedBatch        int    `env:"GOCHUNK_EMBED_BATCH" envDefault:"50"`

	// Logging
	LogLevel string `env:"GOCHUNK_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"GOCHUNK_LOG_JSON" envDefault:"false"`
}

// Load reads an optional dotenv file, then parses the environment into a Config.
// A missing dotenv file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreJSONL:
	default:
		return fmt.Errorf("unknown store kind %q (want %s or %s)", c.Store, StoreSQLite, StoreJSONL)
	}

	if err := c.ChunkerOptions().Validate(); err != nil {
		return err
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.EmbedBatch <= 0 {
		return errors.New("embed batch size must be positive")
	}
	if c.DocsDir == "" {
		return errors.New("documents directory is required")
	}
	return nil
}

// ChunkerOptions returns the chunk sizing parameters
func (c *Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		MaxTokens:       c.MaxTokens,
		OverlapTokens:   c.OverlapTokens,
		MinTokens:       c.MinTokens,
		SectionMinParts: c.SectionMinParts,
	}
}

// StorePath returns the location of the configured store
func (c *Config) StorePath() string {
	if c.Store == StoreJSONL {
		return c.JSONLPath
	}
	return c.DBPath
}

// EmbedderConfig selects the API key matching the configured provider
func (c *Config) EmbedderConfig() embedder.Config {
	cfg := embedder.Config{
		Provider: c.EmbeddingProvider,
		Model:    c.EmbeddingModel,
		Endpoint: c.EmbeddingEndpoint,
	}
	switch embedder.DetectProvider(embedder.Config{Provider: c.EmbeddingProvider, APIKey: c.OpenAIKey}) {
	case embedder.ProviderOpenAI:
		cfg.APIKey = c.OpenAIKey
	case embedder.ProviderJina:
		cfg.APIKey = c.JinaKey
	}
	return cfg
}

// LoggerConfig returns the logger settings, writing to stderr
func (c *Config) LoggerConfig() *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(c.LogLevel)
	cfg.JSON = c.LogJSON
	return cfg
}
