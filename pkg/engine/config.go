package engine

import (
	"time"

	"github.com/dshills/recallkit/internal/chunker"
	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/indexer"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/retry"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/internal/writer"
)

// Config configures an Engine. Zero values fall back to DefaultConfig.
type Config struct {
	// DBPath is the SQLite database file, ":memory:" for a throwaway store
	DBPath string

	// Embedding selects and configures the embedding provider
	Embedding embedder.Config
	// Embedder, when set, is used instead of building one from Embedding.
	// The engine does not close an injected embedder.
	Embedder embedder.Embedder

	// Standalone vector index
	IndexHyperplanes int
	IndexBuckets     int
	IndexThreshold   float64
	IndexMaxItems    int

	// Secondary LSH kept by the store
	LSHTables      int
	LSHHyperplanes int

	// Point-read cache
	CacheSize int
	CacheTTL  time.Duration

	BusyTimeout time.Duration

	// Write coordinator
	QueueSize        int
	EmbedTimeout     time.Duration
	EmbedConcurrency int
	Retry            retry.Policy

	// Backfill pacing, 0 for unlimited
	BackfillRate  float64
	BackfillBurst int

	ChunkSize    int
	ChunkOverlap int

	Logger *logging.Logger
}

// DefaultConfig returns a configuration backed by the local embedder and an
// in-memory database
func DefaultConfig() Config {
	return Config{
		DBPath: ":memory:",
		Embedding: embedder.Config{
			Provider:  embedder.ProviderLocal,
			CacheSize: embedder.DefaultCacheSize,
		},
		IndexHyperplanes: vectorindex.DefaultHyperplanes,
		IndexBuckets:     vectorindex.DefaultBuckets,
		IndexMaxItems:    vectorindex.DefaultMaxItems,
		LSHTables:        storage.DefaultLSHTables,
		LSHHyperplanes:   storage.DefaultLSHHyperplanes,
		CacheSize:        storage.DefaultCacheSize,
		CacheTTL:         storage.DefaultCacheTTL,
		BusyTimeout:      5 * time.Second,
		QueueSize:        writer.DefaultQueueSize,
		EmbedTimeout:     writer.DefaultEmbedTimeout,
		EmbedConcurrency: writer.DefaultEmbedConcurrency,
		Retry:            retry.DefaultPolicy(),
		BackfillBurst:    indexer.DefaultConfig().Burst,
		ChunkSize:        chunker.DefaultSize,
		ChunkOverlap:     chunker.DefaultOverlap,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = d.BusyTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = d.Retry
	}
}
