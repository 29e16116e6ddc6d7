// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"

	lecterr "github.com/lectern-dev/lectern/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Lectern configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Index      IndexConfig      `mapstructure:"index"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
}

// ServerConfig controls how the HTTP server listens for connections.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Backend    string `mapstructure:"backend"`
	Endpoint   string `mapstructure:"endpoint"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// GenerationConfig selects and configures the text-generation backend.
type GenerationConfig struct {
	Backend     string  `mapstructure:"backend"`
	Endpoint    string  `mapstructure:"endpoint"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend    string `mapstructure:"backend"`
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
	Path       string `mapstructure:"path"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ChunkingConfig controls how documents are split into passages.
type ChunkingConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

// IngestConfig controls corpus ingestion.
type IngestConfig struct {
	Dir     string `mapstructure:"dir"`
	Workers int    `mapstructure:"workers"`
}

// RetrievalConfig controls retrieval-time behavior.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// SetDefaults applies default values to a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8642")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})

	v.SetDefault("embedding.backend", "ollama")
	v.SetDefault("embedding.endpoint", "http://localhost:11434")
	v.SetDefault("embedding.model", "mxbai-embed-large")
	v.SetDefault("embedding.dimensions", 1024)

	v.SetDefault("generation.backend", "ollama")
	v.SetDefault("generation.endpoint", "http://localhost:11434")
	v.SetDefault("generation.model", "deepseek-r1:8b")
	v.SetDefault("generation.temperature", 0.3)

	v.SetDefault("index.backend", "chroma")
	v.SetDefault("index.url", "http://localhost:8000")
	v.SetDefault("index.collection", "documents")
	v.SetDefault("index.path", "lectern-index.db")
	v.SetDefault("index.dimensions", 1024)

	v.SetDefault("chunking.chunk_size", 500)
	v.SetDefault("chunking.overlap", 50)

	v.SetDefault("ingest.dir", "documents")
	v.SetDefault("ingest.workers", 4)

	v.SetDefault("retrieval.top_k", 4)
}

// SetupEnv binds LECTERN_-prefixed environment variables, replacing dots
// with underscores (e.g. LECTERN_SERVER_LISTEN).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("LECTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults only when path
// is empty) with environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, lecterr.Errorf(lecterr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from a prepared Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, lecterr.Errorf(lecterr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns a slice
// of all validation errors found, collecting all issues rather than
// stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateBackends()...)
	errs = append(errs, c.validateTuning()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateBackends() []error {
	var errs []error

	validEmbed := map[string]bool{"ollama": true, "openai": true}
	if !validEmbed[c.Embedding.Backend] {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: embedding.backend must be one of [ollama, openai], got %q", c.Embedding.Backend))
	}

	validGen := map[string]bool{"ollama": true, "openai": true, "anthropic": true}
	if !validGen[c.Generation.Backend] {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: generation.backend must be one of [ollama, openai, anthropic], got %q", c.Generation.Backend))
	}

	validIndex := map[string]bool{"chroma": true, "sqlite": true}
	if !validIndex[c.Index.Backend] {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: index.backend must be one of [chroma, sqlite], got %q", c.Index.Backend))
	}

	if c.Index.Collection == "" {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: index.collection must not be empty"))
	}

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: embedding.dimensions must be greater than 0, got %d", c.Embedding.Dimensions))
	}

	return errs
}

func (c *Config) validateTuning() []error {
	var errs []error

	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: chunking.chunk_size must be greater than 0, got %d", c.Chunking.ChunkSize))
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: chunking.overlap must not be negative, got %d", c.Chunking.Overlap))
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize && c.Chunking.ChunkSize > 0 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: chunking.overlap (%d) must be smaller than chunking.chunk_size (%d)",
			c.Chunking.Overlap, c.Chunking.ChunkSize))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: retrieval.top_k must be greater than 0, got %d", c.Retrieval.TopK))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: ingest.workers must be greater than 0, got %d", c.Ingest.Workers))
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, lecterr.Errorf(lecterr.CodeConfigValidateInvalidValue,
			"config: generation.temperature must be between 0 and 2, got %g", c.Generation.Temperature))
	}

	return errs
}
