package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/internal/writer"
	"github.com/dshills/recallkit/pkg/types"
)

const testDimension = 32

// mockEmbedder wraps the local provider and fails for texts containing failOn
type mockEmbedder struct {
	embedder.Embedder
	failOn string

	mu    sync.Mutex
	calls int
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.failOn != "" && strings.Contains(req.Text, m.failOn) {
		return nil, embedder.ErrProviderFailed
	}
	return m.Embedder.GenerateEmbedding(ctx, req)
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fixture struct {
	store  *storage.SQLiteStorage
	index  *vectorindex.Index
	writer *writer.Coordinator
	emb    *mockEmbedder
	idx    *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", storage.DefaultOptions(testDimension))
	require.NoError(t, err)

	local, err := embedder.NewLocalProviderWithDimension(testDimension, nil)
	require.NoError(t, err)
	emb := &mockEmbedder{Embedder: local}

	index, err := vectorindex.New(vectorindex.Config{Dimension: testDimension})
	require.NoError(t, err)

	w := writer.New(store, emb, index, writer.Config{}, nil)
	t.Cleanup(func() {
		_ = w.Close()
		_ = store.Close()
	})

	return &fixture{
		store:  store,
		index:  index,
		writer: w,
		emb:    emb,
		idx:    New(store, w, emb, index, Config{}, nil),
	}
}

func (f *fixture) insert(t *testing.T, rec *types.Record, embed bool) {
	t.Helper()
	inserted, err := f.writer.Insert(context.Background(), rec, embed)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeMissing, "missing": ModeMissing, "all": ModeAll, "replace": ModeReplace} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("everything")
	assert.True(t, types.IsValidation(err))
}

func TestBackfill_MissingUpdatesOnlyRowsWithoutVectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.insert(t, &types.Record{ID: fmt.Sprintf("r%d", i), Request: fmt.Sprintf("question number %d", i)}, i >= 3)
	}

	var progress []Progress
	summary, err := f.idx.Backfill(ctx, Options{
		Mode:       ModeMissing,
		BatchSize:  2,
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.Cancelled)
	assert.Empty(t, summary.Errors)

	require.Len(t, progress, 5)
	assert.Equal(t, Progress{Processed: 5, Total: 5, CurrentID: "r4"}, progress[4])

	for i := 0; i < 5; i++ {
		rec, err := f.store.GetRecord(ctx, fmt.Sprintf("r%d", i))
		require.NoError(t, err)
		assert.Empty(t, rec.MissingEmbeddings())
		assert.Equal(t, 4, f.store.LSH().Memberships(rec.RowID))
	}
	assert.Equal(t, 5, f.index.Len())

	// A second run finds nothing to do
	summary, err = f.idx.Backfill(ctx, Options{Mode: ModeMissing})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 5, summary.Skipped)
}

func TestBackfill_AllReembedsEveryRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, &types.Record{ID: "a", Request: "alpha"}, true)
	f.insert(t, &types.Record{ID: "b", Request: "beta", Response: "gamma"}, true)
	f.insert(t, &types.Record{ID: "empty"}, false)

	before := f.emb.callCount()
	summary, err := f.idx.Backfill(ctx, Options{Mode: ModeAll})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, before+3, f.emb.callCount())
}

func TestBackfill_ReplaceDropsOrphanVectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, &types.Record{ID: "a", Request: "alpha"}, true)

	// Plant a summary vector with no summary text
	vec, err := embedder.Embed(ctx, f.emb, "orphan")
	require.NoError(t, err)
	_, err = f.writer.Reembed(ctx, "a", map[types.FieldName]types.FieldEmbedding{types.FieldSummary: {Vector: vec}}, nil)
	require.NoError(t, err)

	summary, err := f.idx.Backfill(ctx, Options{Mode: ModeReplace})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	rec, err := f.store.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.Embedding(types.FieldSummary).Empty())
	assert.NotEmpty(t, rec.Embedding(types.FieldRequest).Vector)
}

func TestBackfill_FailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, &types.Record{ID: "ok1", Request: "fine text"}, false)
	f.insert(t, &types.Record{ID: "bad", Request: "poison text"}, false)
	f.insert(t, &types.Record{ID: "ok2", Request: "more fine text"}, false)
	f.emb.failOn = "poison"

	summary, err := f.idx.Backfill(ctx, Options{Mode: ModeMissing})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "bad")
}

func TestBackfill_CancelledBetweenRows(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.insert(t, &types.Record{ID: fmt.Sprintf("r%d", i), Request: "text"}, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	summary, err := f.idx.Backfill(ctx, Options{
		Mode: ModeMissing,
		OnProgress: func(p Progress) {
			if p.Processed == 2 {
				cancel()
			}
		},
	})
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 2, summary.Succeeded)

	missing, err := f.store.ListRecords(context.Background(), storage.ListOptions{MissingOnly: true})
	require.NoError(t, err)
	assert.Len(t, missing, 3)
}

func TestBackfill_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.idx = New(f.store, f.writer, f.emb, f.index, Config{RatePerSecond: 20, Burst: 1}, nil)
	for i := 0; i < 4; i++ {
		f.insert(t, &types.Record{ID: fmt.Sprintf("r%d", i), Request: "text"}, false)
	}

	start := time.Now()
	summary, err := f.idx.Backfill(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	// Three waits of 50ms after the first token
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestBackfill_NoEmbedder(t *testing.T) {
	f := newFixture(t)
	idx := New(f.store, f.writer, nil, f.index, Config{}, nil)
	_, err := idx.Backfill(context.Background(), Options{})
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
}

func TestMaintenanceIsExclusive(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.idx.lock.TryAcquire())
	defer f.idx.lock.Release()

	_, err := f.idx.Backfill(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrMaintenanceInProgress)
	assert.ErrorIs(t, f.idx.RebuildIndex(context.Background(), nil), ErrMaintenanceInProgress)
	_, err = f.idx.PruneEmpty(context.Background())
	assert.ErrorIs(t, err, ErrMaintenanceInProgress)
	assert.True(t, f.idx.Running())
}

func TestRebuildIndex_ReplaysStoredVectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, &types.Record{ID: "a", Request: "alpha question", Response: "alpha answer"}, true)
	f.insert(t, &types.Record{ID: "b", Request: "beta question"}, true)
	f.insert(t, &types.Record{ID: "c", Request: "not embedded"}, false)

	lshBefore := f.store.LSH().Stats()
	indexBefore := f.index.Len()

	// Corrupt both indexes
	f.store.LSH().Clear()
	f.index.Clear()
	require.NoError(t, f.index.Upsert("ghost#request", make([]float32, testDimension), nil))

	var last Progress
	require.NoError(t, f.idx.RebuildIndex(ctx, func(p Progress) { last = p }))

	assert.Equal(t, lshBefore, f.store.LSH().Stats())
	assert.Equal(t, indexBefore, f.index.Len())
	_, ok := f.index.Get("ghost#request")
	assert.False(t, ok)
	assert.Equal(t, Progress{Processed: 3, Total: 3, CurrentID: "c"}, last)
}

func TestLoad_FillsEmptyIndexes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, &types.Record{ID: "a", Request: "alpha"}, true)

	f.store.LSH().Clear()
	f.index.Clear()
	require.NoError(t, f.idx.Load(ctx))

	rec, err := f.store.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4, f.store.LSH().Memberships(rec.RowID))
	assert.Equal(t, 1, f.index.Len())
}

func TestPruneEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, &types.Record{ID: "keep", Request: "text"}, false)
	f.insert(t, &types.Record{ID: "drop"}, false)

	pruned, err := f.idx.PruneEmpty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = f.store.GetRecord(ctx, "drop")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
