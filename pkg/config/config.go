// Package config defines the raglane configuration model and its loader.
//
// Configuration is a single YAML document with one section per concern.
// Every section supports SetDefaults and Validate; Load applies both.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger"`
	Database    DatabaseConfig    `yaml:"database"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Server      ServerConfig      `yaml:"server"`
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "simple" or "verbose".
	Format string `yaml:"format"`
	// File is an optional log file path (empty = stderr).
	File string `yaml:"file"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver currently supports "sqlite".
	Driver string `yaml:"driver"`
	// DSN is the driver-specific connection string.
	// For sqlite this is a file path or ":memory:".
	DSN string `yaml:"dsn"`
}

// ObjectStoreConfig configures the blob store for raw, parsed, and chunked
// artifacts.
type ObjectStoreConfig struct {
	// Type is "filesystem" or "memory".
	Type string `yaml:"type"`
	// Root is the base directory for the filesystem store.
	Root string `yaml:"root"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	// Type is "openai" or "ollama".
	Type string `yaml:"type"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// APIKey authenticates against hosted providers. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`
	// Host overrides the provider base URL.
	Host string `yaml:"host"`
	// Dimension overrides the reported vector dimension (0 = model default).
	Dimension int `yaml:"dimension"`
	// BatchSize is the max number of texts per embedding request.
	BatchSize int `yaml:"batch_size"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
	// MaxRetries bounds retries of a failed embedding request.
	MaxRetries int `yaml:"max_retries"`
}

// VectorStoreConfig configures the vector index backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider string `yaml:"provider"`
	// Host and Port locate a qdrant instance (gRPC port).
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey authenticates against qdrant cloud.
	APIKey string `yaml:"api_key"`
	// EnableTLS toggles TLS for the qdrant connection.
	EnableTLS *bool `yaml:"enable_tls"`
	// Path is the persistence directory for the chromem provider
	// (empty = in-memory).
	Path string `yaml:"path"`
	// Metric is the similarity metric: cosine, dot, or euclid.
	// Fixed at collection creation time.
	Metric string `yaml:"metric"`
	// StoreText controls whether original text is kept in point payloads.
	StoreText *bool `yaml:"store_text"`
	// IngestBatch is the number of points per upsert batch.
	IngestBatch int `yaml:"ingest_batch"`
	// Parallel bounds concurrent upsert batches.
	Parallel int `yaml:"parallel"`
	// MaxRetries bounds retries of a failed upsert batch.
	MaxRetries int `yaml:"max_retries"`
}

// PipelineConfig configures the build pipeline.
type PipelineConfig struct {
	// Workers bounds per-stage parallelism.
	Workers int `yaml:"workers"`
	// RawBucket holds uploaded source files; ParsedBucket and
	// ChunkedBucket hold stage outputs.
	RawBucket     string `yaml:"raw_bucket"`
	ParsedBucket  string `yaml:"parsed_bucket"`
	ChunkedBucket string `yaml:"chunked_bucket"`
	// BuildTimeout caps a single retriever build; a build that exceeds it
	// is failed rather than left in building.
	BuildTimeout Duration `yaml:"build_timeout"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Database.SetDefaults()
	c.ObjectStore.SetDefaults()
	c.Embedder.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Pipeline.SetDefaults()
	c.Server.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.ObjectStore.Validate(); err != nil {
		return fmt.Errorf("object_store: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" {
		c.DSN = "raglane.db"
	}
}

func (c *DatabaseConfig) Validate() error {
	if c.Driver != "sqlite" {
		return fmt.Errorf("unsupported driver: %s", c.Driver)
	}
	return nil
}

func (c *ObjectStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "filesystem"
	}
	if c.Root == "" {
		c.Root = "data"
	}
}

func (c *ObjectStoreConfig) Validate() error {
	switch c.Type {
	case "filesystem", "memory":
		return nil
	default:
		return fmt.Errorf("unsupported type: %s", c.Type)
	}
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported type: %s", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai embedder")
	}
	return nil
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "qdrant"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Metric == "" {
		c.Metric = "cosine"
	}
	if c.StoreText == nil {
		c.StoreText = BoolPtr(true)
	}
	if c.IngestBatch <= 0 {
		c.IngestBatch = 64
	}
	if c.Parallel <= 0 {
		c.Parallel = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	switch c.Metric {
	case "cosine", "dot", "euclid":
	default:
		return fmt.Errorf("unsupported metric: %s (supported: cosine, dot, euclid)", c.Metric)
	}
	return nil
}

func (c *PipelineConfig) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RawBucket == "" {
		c.RawBucket = "rag-raw-files"
	}
	if c.ParsedBucket == "" {
		c.ParsedBucket = "rag-parsed-files"
	}
	if c.ChunkedBucket == "" {
		c.ChunkedBucket = "rag-chunked-files"
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = Duration(30 * time.Minute)
	}
}

func (c *PipelineConfig) Validate() error {
	if c.ParsedBucket == c.ChunkedBucket {
		return fmt.Errorf("parsed_bucket and chunked_bucket must differ")
	}
	return nil
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// Duration is a time.Duration that supports YAML parsing.
//
// Supports formats like "1s", "5m", "2h", "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var ns int64
		if err := unmarshal(&ns); err != nil {
			return fmt.Errorf("duration must be a string (e.g., '1s') or integer (nanoseconds)")
		}
		*d = Duration(ns)
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
