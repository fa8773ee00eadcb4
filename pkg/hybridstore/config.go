// Package hybridstore is the facade: configuration plus a factory mapping a
// backend name to a constructed vector store, keyword index, or hybrid
// searcher.
package hybridstore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vim89/hybridstore/pkg/core"
)

// SQLiteConfig configures the embedded backend.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path"`
}

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	PoolSize int32  `yaml:"pool_size"`
	// VectorTable and KeywordTable default to "vectors" and "documents".
	VectorTable  string `yaml:"vector_table"`
	KeywordTable string `yaml:"keyword_table"`
}

// QdrantConfig configures the remote backend.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// Config selects and parameterizes the backends.
type Config struct {
	// Backend selects the vector store: "sqlite", "postgres", or "qdrant".
	Backend string `yaml:"backend"`
	// KeywordBackend selects the keyword index: "sqlite" or "postgres".
	// Empty follows Backend where possible, falling back to "sqlite" for
	// backends without a lexical side.
	KeywordBackend string `yaml:"keyword_backend"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig is an embedded store in the working directory.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendSQLite,
		SQLite:   SQLiteConfig{Path: "hybridstore.db"},
		Qdrant:   QdrantConfig{Collection: "hybridstore"},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, core.WrapError("config", fmt.Errorf("failed to read config: %w", err))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, core.WrapError("config", fmt.Errorf("%w: %v", core.ErrInvalidConfig, err))
	}
	return cfg, nil
}

// keywordBackend resolves the effective keyword backend for this config.
func (c Config) keywordBackend() string {
	if c.KeywordBackend != "" {
		return c.KeywordBackend
	}
	if c.Backend == BackendPostgres {
		return BackendPostgres
	}
	return BackendSQLite
}
