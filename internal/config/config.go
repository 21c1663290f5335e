// Package config loads recallkit settings from an optional YAML file and
// RECALLKIT_* environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/retry"
	"github.com/dshills/recallkit/pkg/engine"
)

// EnvPrefix is prepended to every environment key, e.g. RECALLKIT_DATABASE_PATH
const EnvPrefix = "RECALLKIT"

// DefaultDBPath is used when no database path is configured
const DefaultDBPath = "~/.recallkit/recall.db"

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Index       IndexConfig       `mapstructure:"index"`
	Writer      WriterConfig      `mapstructure:"writer"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Chunking    ChunkingConfig    `mapstructure:"chunking"`
	Log         LogConfig         `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Endpoint  string        `mapstructure:"endpoint"`
	Dimension int           `mapstructure:"dimension"`
	CacheSize int           `mapstructure:"cache_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type IndexConfig struct {
	Hyperplanes    int     `mapstructure:"hyperplanes"`
	Buckets        int     `mapstructure:"buckets"`
	Threshold      float64 `mapstructure:"threshold"`
	MaxItems       int     `mapstructure:"max_items"`
	LSHTables      int     `mapstructure:"lsh_tables"`
	LSHHyperplanes int     `mapstructure:"lsh_hyperplanes"`
}

type WriterConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	EmbedTimeout     time.Duration `mapstructure:"embed_timeout"`
	EmbedConcurrency int           `mapstructure:"embed_concurrency"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
}

type MaintenanceConfig struct {
	BackfillRate  float64 `mapstructure:"backfill_rate"`
	BackfillBurst int     `mapstructure:"backfill_burst"`
}

type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every key so environment variables are picked up by
// Unmarshal even when no file mentions them
func setDefaults(v *viper.Viper) {
	d := engine.DefaultConfig()

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.busy_timeout", d.BusyTimeout)
	v.SetDefault("database.cache_size", d.CacheSize)
	v.SetDefault("database.cache_ttl", d.CacheTTL)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheSize)
	v.SetDefault("embedding.timeout", embedder.DefaultHTTPTimeout)

	v.SetDefault("index.hyperplanes", d.IndexHyperplanes)
	v.SetDefault("index.buckets", d.IndexBuckets)
	v.SetDefault("index.threshold", d.IndexThreshold)
	v.SetDefault("index.max_items", d.IndexMaxItems)
	v.SetDefault("index.lsh_tables", d.LSHTables)
	v.SetDefault("index.lsh_hyperplanes", d.LSHHyperplanes)

	v.SetDefault("writer.queue_size", d.QueueSize)
	v.SetDefault("writer.embed_timeout", d.EmbedTimeout)
	v.SetDefault("writer.embed_concurrency", d.EmbedConcurrency)
	v.SetDefault("writer.retry_attempts", d.Retry.MaxAttempts)
	v.SetDefault("writer.retry_base_delay", d.Retry.BaseDelay)
	v.SetDefault("writer.retry_max_delay", d.Retry.MaxDelay)

	v.SetDefault("maintenance.backfill_rate", d.BackfillRate)
	v.SetDefault("maintenance.backfill_burst", d.BackfillBurst)

	v.SetDefault("chunking.size", d.ChunkSize)
	v.SetDefault("chunking.overlap", d.ChunkOverlap)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration Load produces with no file and no
// environment overrides
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from file and environment. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	provider := strings.ToLower(c.Embedding.Provider)
	if (provider == embedder.ProviderJina || provider == embedder.ProviderOpenAI) && c.Embedding.APIKey == "" {
		envKey := embedder.EnvJinaAPIKey
		if provider == embedder.ProviderOpenAI {
			envKey = embedder.EnvOpenAIAPIKey
		}
		if os.Getenv(envKey) == "" {
			warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", provider))
		}
	}

	if c.Index.Threshold < -1 || c.Index.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("index threshold %.2f is outside [-1, 1]", c.Index.Threshold))
	}

	if c.Chunking.Size > 0 && c.Chunking.Overlap >= c.Chunking.Size {
		warnings = append(warnings, fmt.Sprintf("chunk overlap %d is not smaller than chunk size %d", c.Chunking.Overlap, c.Chunking.Size))
	}

	if c.Writer.RetryAttempts < 1 {
		warnings = append(warnings, fmt.Sprintf("writer retry_attempts %d is below 1", c.Writer.RetryAttempts))
	}

	return warnings
}

// DBFile expands a leading ~ in the database path and creates its directory
func (c *Config) DBFile() (string, error) {
	path := c.Database.Path
	if path == "" {
		path = DefaultDBPath
	}
	if path == ":memory:" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return path, nil
}

// NewLogger builds the logger described by the log section
func (c LogConfig) NewLogger(w io.Writer) *logging.Logger {
	level := logging.ParseLevel(c.Level)
	if strings.EqualFold(c.Format, "json") {
		return logging.NewJSONLogger(w, level)
	}
	return logging.NewTextLogger(w, level)
}

// ToEngine maps the configuration onto engine settings
func (c *Config) ToEngine(logger *logging.Logger) (engine.Config, error) {
	dbFile, err := c.DBFile()
	if err != nil {
		return engine.Config{}, err
	}

	policy := retry.DefaultPolicy()
	if c.Writer.RetryAttempts > 0 {
		policy.MaxAttempts = c.Writer.RetryAttempts
	}
	if c.Writer.RetryBaseDelay > 0 {
		policy.BaseDelay = c.Writer.RetryBaseDelay
	}
	if c.Writer.RetryMaxDelay > 0 {
		policy.MaxDelay = c.Writer.RetryMaxDelay
	}

	return engine.Config{
		DBPath: dbFile,
		Embedding: embedder.Config{
			Provider:  c.Embedding.Provider,
			APIKey:    c.Embedding.APIKey,
			Model:     c.Embedding.Model,
			Endpoint:  c.Embedding.Endpoint,
			Dimension: c.Embedding.Dimension,
			CacheSize: c.Embedding.CacheSize,
			Timeout:   c.Embedding.Timeout,
		},
		IndexHyperplanes: c.Index.Hyperplanes,
		IndexBuckets:     c.Index.Buckets,
		IndexThreshold:   c.Index.Threshold,
		IndexMaxItems:    c.Index.MaxItems,
		LSHTables:        c.Index.LSHTables,
		LSHHyperplanes:   c.Index.LSHHyperplanes,
		CacheSize:        c.Database.CacheSize,
		CacheTTL:         c.Database.CacheTTL,
		BusyTimeout:      c.Database.BusyTimeout,
		QueueSize:        c.Writer.QueueSize,
		EmbedTimeout:     c.Writer.EmbedTimeout,
		EmbedConcurrency: c.Writer.EmbedConcurrency,
		Retry:            policy,
		BackfillRate:     c.Maintenance.BackfillRate,
		BackfillBurst:    c.Maintenance.BackfillBurst,
		ChunkSize:        c.Chunking.Size,
		ChunkOverlap:     c.Chunking.Overlap,
		Logger:           logger,
	}, nil
}
