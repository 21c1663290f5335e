package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/recallkit/internal/chunker"
	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/retry"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/pkg/types"
)

const (
	DefaultQueueSize        = 256
	DefaultEmbedTimeout     = 30 * time.Second
	DefaultEmbedConcurrency = 4
)

// ErrClosed is returned for writes submitted after Close
var ErrClosed = errors.New("write coordinator closed")

// Config holds coordinator parameters
type Config struct {
	QueueSize        int           // Pending writes admitted before producers block
	EmbedTimeout     time.Duration // Overall bound on embedding calls per write
	EmbedConcurrency int           // Concurrent embedding calls per write
	Retry            retry.Policy  // Backoff for busy store errors
	Chunker          *chunker.Chunker
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:        DefaultQueueSize,
		EmbedTimeout:     DefaultEmbedTimeout,
		EmbedConcurrency: DefaultEmbedConcurrency,
		Retry:            retry.DefaultPolicy(),
		Chunker:          chunker.New(chunker.DefaultSize, chunker.DefaultOverlap),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = d.EmbedTimeout
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = d.EmbedConcurrency
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = d.Retry
	}
	if c.Chunker == nil {
		c.Chunker = d.Chunker
	}
}

type outcome struct {
	result Result
	err    error
}

// pending is a queued write and the channel its outcome is delivered on
type pending struct {
	write Write
	done  chan outcome
}

// Coordinator applies every mutation through one worker goroutine, in the
// order writes were admitted
type Coordinator struct {
	store    storage.Storage
	embedder embedder.Embedder
	index    *vectorindex.Index
	cfg      Config
	logger   *logging.Logger

	queue chan *pending

	// admitMu guards closed against concurrent admission
	admitMu sync.RWMutex
	closed  bool

	applyMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a Coordinator and starts its worker. A nil embedder disables
// embedding; a nil index skips standalone-index maintenance.
func New(store storage.Storage, emb embedder.Embedder, index *vectorindex.Index, cfg Config, logger *logging.Logger) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		store:    store,
		embedder: emb,
		index:    index,
		cfg:      cfg,
		logger:   logging.OrNoop(logger).WithComponent("writer"),
		queue:    make(chan *pending, cfg.QueueSize),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// run applies queued writes until the queue is closed and drained
func (c *Coordinator) run() {
	defer c.wg.Done()
	for p := range c.queue {
		res, err := c.apply(p.write)
		p.done <- outcome{result: res, err: err}
	}
}

// Submit validates w, waits for queue capacity and then for w to be applied.
// ctx is honoured until the write is admitted; after that the caller waits
// for the outcome.
func (c *Coordinator) Submit(ctx context.Context, w Write) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	p := &pending{write: w, done: make(chan outcome, 1)}

	c.admitMu.RLock()
	if c.closed {
		c.admitMu.RUnlock()
		return Result{}, ErrClosed
	}
	select {
	case c.queue <- p:
		c.admitMu.RUnlock()
	case <-ctx.Done():
		c.admitMu.RUnlock()
		return Result{}, ctx.Err()
	}

	o := <-p.done
	return o.result, o.err
}

// Pending returns the number of admitted writes not yet picked up by the worker
func (c *Coordinator) Pending() int {
	return len(c.queue)
}

// Close stops admission, applies every admitted write and waits for the worker
func (c *Coordinator) Close() error {
	c.admitMu.Lock()
	if c.closed {
		c.admitMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.admitMu.Unlock()

	c.wg.Wait()
	return nil
}

// Insert adds rec unless its id already exists, reporting whether it was added
func (c *Coordinator) Insert(ctx context.Context, rec *types.Record, embed bool) (bool, error) {
	res, err := c.Submit(ctx, Write{Kind: KindInsert, Record: rec, Embed: embed})
	return res.Applied, err
}

// UpdateField merges text into one field of the record addressed by id
func (c *Coordinator) UpdateField(ctx context.Context, id string, field types.FieldName, text string, embed bool) error {
	_, err := c.Submit(ctx, Write{Kind: KindUpdateField, RecordID: id, Field: field, Text: text, Embed: embed})
	return err
}

// Reembed overwrites the vectors of the given fields and re-indexes the
// record. sources may be nil; see Write.Sources.
func (c *Coordinator) Reembed(ctx context.Context, id string, embeddings map[types.FieldName]types.FieldEmbedding,
	sources map[types.FieldName]string) (Result, error) {
	return c.Submit(ctx, Write{Kind: KindReembed, RecordID: id, Embeddings: embeddings, Sources: sources})
}

// PruneEmpty deletes records with no text and returns how many were removed
func (c *Coordinator) PruneEmpty(ctx context.Context) (int, error) {
	res, err := c.Submit(ctx, Write{Kind: KindPruneEmpty})
	return res.Pruned, err
}

// Clear removes every record and empties both indexes
func (c *Coordinator) Clear(ctx context.Context) error {
	_, err := c.Submit(ctx, Write{Kind: KindClear})
	return err
}

// Exclusive runs fn in the worker's turn, so no write applies while it runs
func (c *Coordinator) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := c.Submit(ctx, Write{Kind: KindExclusive, Fn: fn})
	return err
}

// apply executes one write. Only the worker calls it.
func (c *Coordinator) apply(w Write) (res Result, err error) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	ctx := context.Background()
	start := time.Now()
	id := w.recordID()
	defer func() {
		c.logger.LogApply(ctx, w.Kind.String(), id, time.Since(start), err)
	}()

	switch w.Kind {
	case KindInsert:
		return c.applyInsert(ctx, w)
	case KindUpdateField:
		return c.applyUpdateField(ctx, w)
	case KindReembed:
		return c.applyReembed(ctx, w)
	case KindPruneEmpty:
		return c.applyPruneEmpty(ctx)
	case KindClear:
		return c.applyClear(ctx)
	case KindExclusive:
		return Result{Applied: true}, w.Fn(ctx)
	default:
		return Result{}, fmt.Errorf("%w: unknown write kind %d", types.ErrValidation, int(w.Kind))
	}
}

func (c *Coordinator) applyInsert(ctx context.Context, w Write) (Result, error) {
	rec := w.Record.Clone()

	exists, err := retry.Do(ctx, c.retryPolicy(rec.ID), func(ctx context.Context) (bool, error) {
		return c.store.RecordExists(ctx, rec.ID)
	})
	if err != nil {
		return Result{}, fmt.Errorf("check record %s: %w", rec.ID, err)
	}
	if exists {
		return Result{}, nil
	}

	var missing []types.FieldName
	if w.Embed {
		missing = c.embed(ctx, rec, rec.PopulatedFields())
	}

	inserted, err := retry.Do(ctx, c.retryPolicy(rec.ID), func(ctx context.Context) (bool, error) {
		return c.insertTx(ctx, rec)
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	if !inserted {
		return Result{}, nil
	}

	stale := c.reindex(ctx, rec)
	c.store.Invalidate(rec.ID)
	return Result{Applied: true, Record: rec, Missing: missing, Stale: stale}, nil
}

// insertTx re-checks the key and inserts inside one transaction
func (c *Coordinator) insertTx(ctx context.Context, rec *types.Record) (bool, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tx.RecordExists(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	inserted, err := tx.InsertRecord(ctx, rec)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return inserted, nil
}

func (c *Coordinator) applyUpdateField(ctx context.Context, w Write) (Result, error) {
	rec, found, err := c.load(ctx, w.RecordID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		rec = &types.Record{ID: w.RecordID}
	}

	if !rec.Merge(w.Field, w.Text) {
		return Result{Record: rec}, nil
	}

	var missing []types.FieldName
	if w.Field.Embeddable() {
		// The stored vectors describe the old text
		rec.SetEmbedding(w.Field, types.FieldEmbedding{})
		if w.Embed {
			missing = c.embed(ctx, rec, []types.FieldName{w.Field})
		}
	}

	if found {
		err = retry.Run(ctx, c.retryPolicy(rec.ID), func(ctx context.Context) error {
			return c.store.UpdateRecord(ctx, rec)
		})
	} else {
		var inserted bool
		inserted, err = retry.Do(ctx, c.retryPolicy(rec.ID), func(ctx context.Context) (bool, error) {
			return c.insertTx(ctx, rec)
		})
		if err == nil && !inserted {
			err = fmt.Errorf("record %s appeared outside the writer", rec.ID)
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("update record %s: %w", rec.ID, err)
	}

	stale := c.reindex(ctx, rec)
	c.store.Invalidate(rec.ID)
	return Result{Applied: true, Record: rec, Missing: missing, Stale: stale}, nil
}

func (c *Coordinator) applyReembed(ctx context.Context, w Write) (Result, error) {
	var applied bool
	rec, err := retry.Do(ctx, c.retryPolicy(w.RecordID), func(ctx context.Context) (*types.Record, error) {
		r, ok, err := c.reembedTx(ctx, w)
		applied = ok
		return r, err
	})
	if errors.Is(err, types.ErrNotFound) {
		return Result{}, fmt.Errorf("record %s: %w", w.RecordID, types.ErrNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("reembed record %s: %w", w.RecordID, err)
	}
	if !applied {
		return Result{Record: rec}, nil
	}

	stale := c.reindex(ctx, rec)
	if stale > 0 {
		c.logger.LogStaleMemberships(ctx, rec.ID, rec.RowID, stale)
	}
	c.store.Invalidate(rec.ID)
	return Result{Applied: true, Record: rec, Stale: stale}, nil
}

// reembedTx attaches w's vectors to the stored row inside one transaction
func (c *Coordinator) reembedTx(ctx context.Context, w Write) (*types.Record, bool, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetRecord(ctx, w.RecordID)
	if err != nil {
		return nil, false, err
	}

	applied := false
	for f, e := range w.Embeddings {
		if !f.Embeddable() {
			continue
		}
		// Vectors computed from text that has since changed are dropped
		if src, ok := w.Sources[f]; ok && src != rec.Text(f) {
			c.logger.WarnContext(ctx, "discarding vectors for changed text", "record_id", rec.ID, "field", string(f))
			continue
		}
		rec.SetEmbedding(f, e)
		applied = true
	}
	if !applied {
		return rec, false, nil
	}

	if err := tx.UpdateRecord(ctx, rec); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (c *Coordinator) applyPruneEmpty(ctx context.Context) (Result, error) {
	deleted, err := retry.Do(ctx, c.retryPolicy(""), func(ctx context.Context) ([]*types.Record, error) {
		return c.store.DeleteEmptyRecords(ctx)
	})
	if err != nil {
		return Result{}, fmt.Errorf("prune empty records: %w", err)
	}
	for _, rec := range deleted {
		if c.index != nil {
			c.index.RemoveRecord(rec.ID)
		}
		c.store.Invalidate(rec.ID)
	}
	return Result{Applied: len(deleted) > 0, Pruned: len(deleted)}, nil
}

func (c *Coordinator) applyClear(ctx context.Context) (Result, error) {
	err := retry.Run(ctx, c.retryPolicy(""), func(ctx context.Context) error {
		return c.store.ClearAll(ctx)
	})
	if err != nil {
		return Result{}, fmt.Errorf("clear records: %w", err)
	}
	if c.index != nil {
		c.index.Clear()
	}
	return Result{Applied: true}, nil
}

// load reads the current row from the database, never from the point-read
// cache, retrying busy errors
func (c *Coordinator) load(ctx context.Context, id string) (*types.Record, bool, error) {
	rec, err := retry.Do(ctx, c.retryPolicy(id), func(ctx context.Context) (*types.Record, error) {
		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		defer func() { _ = tx.Rollback() }()
		return tx.GetRecord(ctx, id)
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load record %s: %w", id, err)
	}
	return rec, true, nil
}

// embed fills rec's vectors for fields under the embedding timeout and
// returns the fields left incomplete
func (c *Coordinator) embed(ctx context.Context, rec *types.Record, fields []types.FieldName) []types.FieldName {
	if c.embedder == nil || len(fields) == 0 {
		return fields
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
	defer cancel()

	vectors, missing, err := EmbedFields(ctx, c.embedder, c.cfg.Chunker, c.cfg.EmbedConcurrency, rec, fields)
	for f, e := range vectors {
		rec.SetEmbedding(f, e)
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		c.logger.LogEmbeddingShortfall(ctx, rec.ID, names, err)
	}
	return missing
}

// reindex replaces the record's secondary LSH memberships and standalone
// fragments, returning the count of stale memberships
func (c *Coordinator) reindex(ctx context.Context, rec *types.Record) int {
	stale, err := c.store.LSH().Replace(rec.RowID, rec.AllVectors())
	if err != nil {
		c.logger.WarnContext(ctx, "secondary lsh update failed", "record_id", rec.ID, "error", err)
	}
	if err := IndexFragments(c.index, c.cfg.Chunker, rec); err != nil {
		c.logger.WarnContext(ctx, "vector index update failed", "record_id", rec.ID, "error", err)
	}
	return stale
}

// retryPolicy retries busy store errors and logs each retry against id
func (c *Coordinator) retryPolicy(id string) retry.Policy {
	p := c.cfg.Retry
	p.Retryable = storage.IsBusy
	p.OnRetry = func(attempt int, err error) {
		c.logger.LogRetry(context.Background(), id, attempt, err)
	}
	return p
}
