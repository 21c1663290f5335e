package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/pkg/types"
)

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, validateText(""), ErrEmptyText)
	assert.NoError(t, validateText("x"))

	assert.ErrorIs(t, validateBatch(nil), ErrInvalidInput)
	assert.ErrorIs(t, validateBatch([]string{"a", ""}), ErrInvalidInput)
	assert.NoError(t, validateBatch([]string{"a", "b"}))
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	emb := &Embedding{Vector: []float32{1, 2}, Provider: "p"}
	cache.Set("first text", emb)

	// Stored and returned values are copies
	emb.Vector[0] = 99
	got, ok := cache.Get("first text")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got.Vector)
	got.Vector[1] = 42
	again, _ := cache.Get("first text")
	assert.Equal(t, []float32{1, 2}, again.Vector)

	_, ok = cache.Get("first text ")
	assert.False(t, ok, "keys are exact text")

	cache.Set("b", &Embedding{Vector: []float32{3}})
	cache.Set("c", &Embedding{Vector: []float32{4}})
	_, ok = cache.Get("first text")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, normalize(zero))
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(NewCache(10))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())

	t.Run("deterministic unit vectors", func(t *testing.T) {
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "reset my password"})
		require.NoError(t, err)
		b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "reset my password"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, vectorindex.CosineSimilarity(a.Vector, a.Vector), 1e-6)
	})

	t.Run("overlapping text is closer", func(t *testing.T) {
		base, _ := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "how do I reset my account password"})
		near, _ := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "reset account password"})
		far, _ := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "weather forecast tomorrow sunny"})

		nearSim := vectorindex.CosineSimilarity(base.Vector, near.Vector)
		farSim := vectorindex.CosineSimilarity(base.Vector, far.Vector)
		assert.Greater(t, nearSim, farSim)
		assert.Greater(t, nearSim, 0.5)
	})

	t.Run("punctuation only", func(t *testing.T) {
		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "?!"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, vectorindex.CosineSimilarity(emb.Vector, emb.Vector), 1e-6)
	})

	t.Run("batch", func(t *testing.T) {
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"one", "two"}})
		require.NoError(t, err)
		assert.Len(t, resp.Embeddings, 2)
		assert.Equal(t, ProviderLocal, resp.Provider)
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.GenerateEmbedding(cctx, EmbeddingRequest{Text: "uncached text"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewLocalProviderWithDimension(t *testing.T) {
	p, err := NewLocalProviderWithDimension(16, nil)
	require.NoError(t, err)
	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 16)

	_, err = NewLocalProviderWithDimension(0, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type wrongWidthEmbedder struct{ LocalProvider }

func (w *wrongWidthEmbedder) Dimension() int { return w.LocalProvider.Dimension() + 1 }

func TestEmbed(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProviderWithDimension(8, nil)
	require.NoError(t, err)

	v, err := Embed(ctx, p, "hello world")
	require.NoError(t, err)
	assert.Len(t, v, 8)

	_, err = Embed(ctx, &wrongWidthEmbedder{LocalProvider: *p}, "hello world")
	assert.True(t, errors.Is(err, types.ErrProviderUnavailable))
}
