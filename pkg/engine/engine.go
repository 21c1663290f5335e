package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/recallkit/internal/chunker"
	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/indexer"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/searcher"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/internal/writer"
	"github.com/dshills/recallkit/pkg/types"
)

// ErrClosed is returned by operations on a closed engine
var ErrClosed = errors.New("engine is closed")

// Engine is one isolated retrieval instance: a store, its indexes, the write
// coordinator and the maintenance service. Engines share no state.
type Engine struct {
	store    storage.Storage
	embedder embedder.Embedder
	ownsEmb  bool
	index    *vectorindex.Index
	writer   *writer.Coordinator
	searcher *searcher.Searcher
	indexer  *indexer.Indexer
	logger   *logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Stats describes the corpus and both indexes
type Stats struct {
	TotalRecords          int
	RecordsWithEmbeddings int
	RecordsMissingVectors int

	// Secondary LSH
	IndexBucketCount int
	IndexEntryCount  int
	IndexedRows      int

	// Standalone vector index
	VectorIndexEntries int
	VectorIndexBuckets int

	PendingWrites      int
	MaintenanceRunning bool

	Provider      string
	Model         string
	Dimension     int
	SchemaVersion string
	SizeMB        float64
	CollectedAt   time.Time
}

// Open creates the store, restores both indexes from persisted vectors and
// starts the write coordinator
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	logger := logging.OrNoop(cfg.Logger)

	emb, ownsEmb := cfg.Embedder, false
	if emb == nil {
		var err error
		if emb, err = embedder.New(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		ownsEmb = true
	}
	closeEmb := func() {
		if ownsEmb {
			_ = emb.Close()
		}
	}

	// The provider fixes the vector width for every index
	dim := emb.Dimension()

	store, err := storage.NewSQLiteStorage(cfg.DBPath, storage.Options{
		LSH: storage.LSHConfig{
			Dimension:   dim,
			Tables:      cfg.LSHTables,
			Hyperplanes: cfg.LSHHyperplanes,
		},
		CacheSize:   cfg.CacheSize,
		CacheTTL:    cfg.CacheTTL,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		closeEmb()
		return nil, fmt.Errorf("open store: %w", err)
	}

	index, err := vectorindex.New(vectorindex.Config{
		Dimension:   dim,
		Hyperplanes: cfg.IndexHyperplanes,
		Buckets:     cfg.IndexBuckets,
		Threshold:   cfg.IndexThreshold,
		MaxItems:    cfg.IndexMaxItems,
	})
	if err != nil {
		_ = store.Close()
		closeEmb()
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	ch := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	w := writer.New(store, emb, index, writer.Config{
		QueueSize:        cfg.QueueSize,
		EmbedTimeout:     cfg.EmbedTimeout,
		EmbedConcurrency: cfg.EmbedConcurrency,
		Retry:            cfg.Retry,
		Chunker:          ch,
	}, logger)

	e := &Engine{
		store:    store,
		embedder: emb,
		ownsEmb:  ownsEmb,
		index:    index,
		writer:   w,
		searcher: searcher.New(store, emb, index, logger),
		indexer: indexer.New(store, w, emb, index, indexer.Config{
			RatePerSecond:    cfg.BackfillRate,
			Burst:            cfg.BackfillBurst,
			EmbedTimeout:     cfg.EmbedTimeout,
			EmbedConcurrency: cfg.EmbedConcurrency,
			Chunker:          ch,
		}, logger),
		logger: logger.WithComponent("engine"),
		closed: make(chan struct{}),
	}

	if err := e.indexer.Load(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("load indexes: %w", err)
	}

	e.logger.InfoContext(ctx, "engine opened",
		"db", cfg.DBPath,
		"provider", emb.Provider(),
		"model", emb.Model(),
		"dimension", dim,
	)
	return e, nil
}

// Close drains pending writes and releases the store. It is safe to call
// more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = errors.Join(e.writer.Close(), e.store.Close())
		if e.ownsEmb {
			err = errors.Join(err, e.embedder.Close())
		}
	})
	return err
}

func (e *Engine) checkOpen() error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
		return nil
	}
}

// AddRecord stores a new record holding requestText and returns its id. An
// empty id is replaced by a generated one. Adding an existing id is a no-op.
func (e *Engine) AddRecord(ctx context.Context, id, requestText string, embed bool) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if strings.TrimSpace(requestText) == "" {
		return "", fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyText)
	}
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := e.writer.Insert(ctx, &types.Record{
		ID:        id,
		Request:   requestText,
		CreatedAt: now,
		UpdatedAt: now,
	}, embed)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateField merges text into the named field of record id. Accepted names
// are response, summary, metadata and the tool aliases toolResponse,
// toolContent and toolResult.
func (e *Engine) UpdateField(ctx context.Context, id, fieldName, text string, embed bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyID)
	}
	field, err := types.ParseField(fieldName)
	if err != nil {
		return err
	}
	return e.writer.UpdateField(ctx, id, field, text, embed)
}

// Search returns at most topK records ranked by their best score across the
// lexical, LSH and vector passes. level selects which fields are scored.
func (e *Engine) Search(ctx context.Context, query string, topK int, minSimilarity float64, level int) ([]types.ScoredRecord, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.searcher.Search(ctx, searcher.Request{
		Query:         query,
		TopK:          topK,
		MinSimilarity: minSimilarity,
		Level:         level,
	})
}

// GetRecord returns the stored record, or nil when id is unknown
func (e *Engine) GetRecord(ctx context.Context, id string) (*types.Record, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	rec, err := e.store.GetRecord(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// BackfillEmbeddings regenerates vectors in the given mode. Cancelling ctx
// stops the run between rows.
func (e *Engine) BackfillEmbeddings(ctx context.Context, mode string, batchSize int, onProgress indexer.ProgressFunc) (*indexer.Summary, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	m, err := indexer.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return e.indexer.Backfill(ctx, indexer.Options{
		Mode:       m,
		BatchSize:  batchSize,
		OnProgress: onProgress,
	})
}

// RebuildIndex replays every stored vector into fresh index buckets
func (e *Engine) RebuildIndex(ctx context.Context, onProgress indexer.ProgressFunc) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.indexer.RebuildIndex(ctx, onProgress)
}

// PruneEmpty deletes records without any text and returns how many went
func (e *Engine) PruneEmpty(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.indexer.PruneEmpty(ctx)
}

// ClearAll deletes every record and empties both indexes
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.writer.Clear(ctx)
}

// GetStats reports corpus and index counts
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	st, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalRecords:          st.TotalRecords,
		RecordsWithEmbeddings: st.RecordsWithEmbeddings,
		RecordsMissingVectors: st.RecordsMissingVectors,
		IndexBucketCount:      st.LSH.Buckets,
		IndexEntryCount:       st.LSH.Entries,
		IndexedRows:           st.LSH.Rows,
		VectorIndexEntries:    e.index.Len(),
		VectorIndexBuckets:    e.index.BucketCount(),
		PendingWrites:         e.writer.Pending(),
		MaintenanceRunning:    e.indexer.Running(),
		Provider:              e.embedder.Provider(),
		Model:                 e.embedder.Model(),
		Dimension:             e.embedder.Dimension(),
		SchemaVersion:         st.SchemaVersion,
		SizeMB:                st.SizeMB,
		CollectedAt:           st.CollectedAt,
	}, nil
}
