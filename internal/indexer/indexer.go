package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/recallkit/internal/chunker"
	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/internal/writer"
	"github.com/dshills/recallkit/pkg/types"
)

// Mode selects which rows and fields a backfill regenerates
type Mode string

const (
	// ModeMissing embeds populated fields that lack vectors or have an
	// incomplete chunk list
	ModeMissing Mode = "missing"
	// ModeAll re-embeds every populated field of every row
	ModeAll Mode = "all"
	// ModeReplace is ModeAll that also drops vectors of fields left without text
	ModeReplace Mode = "replace"
)

// ParseMode maps a mode name to a Mode. Empty means ModeMissing.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMissing:
		return ModeMissing, nil
	case ModeAll, ModeReplace:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown backfill mode %q", types.ErrValidation, s)
	}
}

// Progress reports how far a maintenance run got
type Progress struct {
	Processed int
	Total     int
	CurrentID string
}

// ProgressFunc receives progress after each row
type ProgressFunc func(Progress)

// Options configures a backfill run
type Options struct {
	Mode       Mode
	BatchSize  int // Rows read per page
	OnProgress ProgressFunc
}

// Summary is the outcome of a backfill run
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Errors    []string
	Cancelled bool
}

// Config holds maintenance parameters
type Config struct {
	RatePerSecond    float64       // Rows embedded per second, 0 for unlimited
	Burst            int           // Rows allowed above the steady rate
	EmbedTimeout     time.Duration // Bound on embedding one row
	EmbedConcurrency int           // Concurrent embedding calls per row
	Chunker          *chunker.Chunker
}

// DefaultConfig returns the default maintenance configuration
func DefaultConfig() Config {
	return Config{
		Burst:            1,
		EmbedTimeout:     writer.DefaultEmbedTimeout,
		EmbedConcurrency: writer.DefaultEmbedConcurrency,
		Chunker:          chunker.New(chunker.DefaultSize, chunker.DefaultOverlap),
	}
}

// Indexer runs maintenance over the whole corpus: embedding backfill, index
// rebuild and pruning of empty records. All mutations go through the writer.
type Indexer struct {
	store    storage.Storage
	writer   *writer.Coordinator
	embedder embedder.Embedder
	index    *vectorindex.Index
	cfg      Config
	logger   *logging.Logger

	lock IndexLock
}

// New creates a maintenance service
func New(store storage.Storage, w *writer.Coordinator, emb embedder.Embedder, index *vectorindex.Index,
	cfg Config, logger *logging.Logger) *Indexer {
	d := DefaultConfig()
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = d.EmbedTimeout
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = d.EmbedConcurrency
	}
	if cfg.Chunker == nil {
		cfg.Chunker = d.Chunker
	}
	return &Indexer{
		store:    store,
		writer:   w,
		embedder: emb,
		index:    index,
		cfg:      cfg,
		logger:   logging.OrNoop(logger).WithComponent("indexer"),
	}
}

// Running reports whether a maintenance run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// Backfill regenerates vectors row by row. Rows without work are skipped and
// one row's failure never stops the run. Cancellation is checked between rows;
// a cancelled run returns its partial summary with Cancelled set.
func (idx *Indexer) Backfill(ctx context.Context, opts Options) (*Summary, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if idx.embedder == nil {
		return nil, fmt.Errorf("backfill: %w", types.ErrProviderUnavailable)
	}
	if !idx.lock.TryAcquire() {
		return nil, ErrMaintenanceInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	summary := &Summary{}

	total, err := idx.store.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	summary.Total = total

	limiter := rate.NewLimiter(rate.Inf, idx.cfg.Burst)
	if idx.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(idx.cfg.RatePerSecond), idx.cfg.Burst)
	}

	processed := 0
	err = idx.forEachRow(ctx, opts.BatchSize, func(rec *types.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		fields := idx.fieldsToEmbed(rec, mode)
		if len(fields) == 0 && !(mode == ModeReplace && rec.HasEmbeddings()) {
			summary.Skipped++
		} else {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if err := idx.backfillRow(ctx, rec, fields, mode); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
				idx.logger.WarnContext(ctx, "backfill row failed", "record_id", rec.ID, "error", err)
			} else {
				summary.Succeeded++
			}
		}

		processed++
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Processed: processed, Total: total, CurrentID: rec.ID})
		}
		return nil
	})

	summary.Duration = time.Since(start)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		summary.Cancelled = true
		err = nil
	}
	if err != nil {
		return summary, err
	}

	idx.logger.InfoContext(ctx, "backfill completed",
		"mode", string(mode),
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"cancelled", summary.Cancelled,
		"duration", summary.Duration,
	)
	return summary, nil
}

// fieldsToEmbed returns the fields of rec a backfill in mode must regenerate
func (idx *Indexer) fieldsToEmbed(rec *types.Record, mode Mode) []types.FieldName {
	if mode != ModeMissing {
		return rec.PopulatedFields()
	}

	var fields []types.FieldName
	for _, f := range rec.PopulatedFields() {
		e := rec.Embedding(f)
		if len(e.Vector) == 0 || len(e.Chunks) != len(idx.cfg.Chunker.Split(rec.Text(f))) {
			fields = append(fields, f)
		}
	}
	return fields
}

// backfillRow embeds fields of rec and submits the vectors through the writer
func (idx *Indexer) backfillRow(ctx context.Context, rec *types.Record, fields []types.FieldName, mode Mode) error {
	embeddings := make(map[types.FieldName]types.FieldEmbedding, len(types.EmbeddableFields))
	sources := make(map[types.FieldName]string, len(types.EmbeddableFields))

	var missing []types.FieldName
	var embedErr error
	if len(fields) > 0 {
		ectx, cancel := context.WithTimeout(ctx, idx.cfg.EmbedTimeout)
		var vectors map[types.FieldName]types.FieldEmbedding
		vectors, missing, embedErr = writer.EmbedFields(ectx, idx.embedder, idx.cfg.Chunker, idx.cfg.EmbedConcurrency, rec, fields)
		cancel()

		for f, e := range vectors {
			if e.Empty() {
				continue
			}
			embeddings[f] = e
			sources[f] = rec.Text(f)
		}
	}

	if mode == ModeReplace {
		populated := make(map[types.FieldName]bool)
		for _, f := range rec.PopulatedFields() {
			populated[f] = true
		}
		for _, f := range types.EmbeddableFields {
			if !populated[f] && !rec.Embedding(f).Empty() {
				embeddings[f] = types.FieldEmbedding{}
				sources[f] = rec.Text(f)
			}
		}
	}

	if len(embeddings) > 0 {
		if _, err := idx.writer.Reembed(ctx, rec.ID, embeddings, sources); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		if embedErr == nil {
			embedErr = types.ErrProviderUnavailable
		}
		return fmt.Errorf("fields %v not embedded: %w", missing, embedErr)
	}
	return nil
}

// RebuildIndex clears the secondary LSH and the vector index and replays every
// row's stored vectors, inside an exclusive writer turn
func (idx *Indexer) RebuildIndex(ctx context.Context, onProgress ProgressFunc) error {
	if !idx.lock.TryAcquire() {
		return ErrMaintenanceInProgress
	}
	defer idx.lock.Release()

	return idx.writer.Exclusive(ctx, func(context.Context) error {
		return idx.rebuild(ctx, onProgress)
	})
}

// Load replays stored vectors into both indexes without taking the
// maintenance lock or a writer turn. It is meant for engine start-up, before
// any write is accepted.
func (idx *Indexer) Load(ctx context.Context) error {
	return idx.rebuild(ctx, nil)
}

func (idx *Indexer) rebuild(ctx context.Context, onProgress ProgressFunc) error {
	start := time.Now()

	total, err := idx.store.CountRecords(ctx)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}

	lsh := idx.store.LSH()
	lsh.Clear()
	if idx.index != nil {
		idx.index.Clear()
	}

	processed := 0
	err = idx.forEachRow(ctx, 0, func(rec *types.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := lsh.Replace(rec.RowID, rec.AllVectors()); err != nil {
			idx.logger.WarnContext(ctx, "secondary lsh replay failed", "record_id", rec.ID, "error", err)
		}
		if err := writer.IndexFragments(idx.index, idx.cfg.Chunker, rec); err != nil {
			idx.logger.WarnContext(ctx, "vector index replay failed", "record_id", rec.ID, "error", err)
		}

		processed++
		if onProgress != nil {
			onProgress(Progress{Processed: processed, Total: total, CurrentID: rec.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	stats := lsh.Stats()
	idx.logger.InfoContext(ctx, "index rebuilt",
		"rows", processed,
		"lsh_entries", stats.Entries,
		"duration", time.Since(start),
	)
	return nil
}

// PruneEmpty deletes records that hold no text at all
func (idx *Indexer) PruneEmpty(ctx context.Context) (int, error) {
	if !idx.lock.TryAcquire() {
		return 0, ErrMaintenanceInProgress
	}
	defer idx.lock.Release()

	pruned, err := idx.writer.PruneEmpty(ctx)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		idx.logger.InfoContext(ctx, "pruned empty records", "count", pruned)
	}
	return pruned, nil
}

// forEachRow pages through every row in row id order
func (idx *Indexer) forEachRow(ctx context.Context, pageSize int, fn func(*types.Record) error) error {
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	var after int64
	for {
		page, err := idx.store.ListRecords(ctx, storage.ListOptions{AfterRowID: after, Limit: pageSize})
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
			after = rec.RowID
		}
		if len(page) < pageSize {
			return nil
		}
	}
}
