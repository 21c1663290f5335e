package vectorindex

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func newTestIndex(t *testing.T, cfg Config) *Index {
	idx, err := New(cfg)
	require.NoError(t, err)
	return idx
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestNew_Defaults(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 8})
	cfg := idx.Config()
	assert.Equal(t, DefaultHyperplanes, cfg.Hyperplanes)
	assert.Equal(t, DefaultBuckets, cfg.Buckets)
	assert.Equal(t, DefaultMaxItems, cfg.MaxItems)
	assert.Equal(t, int64(DefaultSeed), cfg.Seed)
	assert.Equal(t, 0.0, cfg.Threshold)
}

func TestHash_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := newTestIndex(t, Config{Dimension: 64})
	b := newTestIndex(t, Config{Dimension: 64})

	for i := 0; i < 50; i++ {
		v := randomUnitVector(rng, 64)
		h := a.Hash(v)
		assert.Equal(t, h, a.Hash(v), "repeated hash must match")
		assert.Equal(t, h, b.Hash(v), "same seed must give the same hash")
		assert.Less(t, h, uint64(1)<<DefaultHyperplanes)
	}
}

func TestHash_SignBits(t *testing.T) {
	planes := [][]float32{{1, 0}, {0, 1}, {-1, 0}}

	assert.Equal(t, uint64(0b011), HashWith(planes, []float32{1, 1}))
	assert.Equal(t, uint64(0b110), HashWith(planes, []float32{-1, 1}))
	// zero dot products count as non-negative
	assert.Equal(t, uint64(0b111), HashWith(planes, []float32{0, 0}))
}

func TestSearch_SelfMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	idx := newTestIndex(t, Config{Dimension: 768})

	x := randomUnitVector(rng, 768)
	require.NoError(t, idx.Upsert("x", x, nil))

	results := idx.Search(x, 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "x", results[0].ID)
	assert.Greater(t, results[0].Similarity, 0.99)
}

func TestSearch_EveryVectorFindsItself(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	idx := newTestIndex(t, Config{Dimension: 128, Buckets: 16})

	vectors := make(map[string][]float32)
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("v%d", i)
		vectors[id] = randomUnitVector(rng, 128)
		require.NoError(t, idx.Upsert(id, vectors[id], nil))
	}

	for id, v := range vectors {
		results := idx.Search(v, 3)
		require.NotEmpty(t, results, id)
		assert.Equal(t, id, results[0].ID)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	}
}

func TestSearch_BoundedAndOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	// few buckets so the probe sees many candidates
	idx := newTestIndex(t, Config{Dimension: 768, Buckets: 4})

	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = randomUnitVector(rng, 768)
		require.NoError(t, idx.Upsert(fmt.Sprintf("%d", i), vectors[i], nil))
	}

	for _, v := range vectors {
		results := idx.Search(v, 5)
		assert.LessOrEqual(t, len(results), 5)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
		}
	}
}

func TestSearch_Threshold(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2, Buckets: 1, Threshold: 0.5})

	require.NoError(t, idx.Upsert("same", []float32{1, 0}, nil))
	require.NoError(t, idx.Upsert("orthogonal", []float32{0, 1}, nil))
	require.NoError(t, idx.Upsert("opposite", []float32{-1, 0}, nil))

	results := idx.Search([]float32{1, 0}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "same", results[0].ID)
}

func TestSearch_EdgeCases(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 4})
	require.NoError(t, idx.Upsert("a", []float32{1, 2, 3, 4}, nil))

	assert.Empty(t, idx.Search([]float32{1, 2, 3, 4}, 0))
	assert.Empty(t, idx.Search(nil, 5))
}

func TestUpsert_ReplacesPriorEntry(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2, Buckets: 1024})

	first := []float32{1, 0}
	second := []float32{-1, 0}
	require.NoError(t, idx.Upsert("a", first, map[string]string{"v": "1"}))
	require.NoError(t, idx.Upsert("a", second, map[string]string{"v": "2"}))

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, idx.BucketCount())

	results := idx.Search(second, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, "2", results[0].Tags["v"])

	entry, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, second, entry.Vector)
}

func TestUpsert_Validation(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2})
	assert.ErrorIs(t, idx.Upsert("", []float32{1, 0}, nil), ErrEmptyID)
	assert.Error(t, idx.Upsert("a", nil, nil))
	assert.Equal(t, 0, idx.Len())
}

func TestUpsert_CopiesInput(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2})
	v := []float32{1, 0}
	tags := map[string]string{"text": "hello"}
	require.NoError(t, idx.Upsert("a", v, tags))

	v[0] = -1
	tags["text"] = "changed"

	entry, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, entry.Vector)
	assert.Equal(t, "hello", entry.Tags["text"])
}

func TestEviction(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	idx := newTestIndex(t, Config{Dimension: 16, MaxItems: 10})

	for i := 0; i < 10; i++ {
		require.NoError(t, idx.Upsert(fmt.Sprintf("e%d", i), randomUnitVector(rng, 16), nil))
	}
	assert.Equal(t, 10, idx.Len())

	require.NoError(t, idx.Upsert("e10", randomUnitVector(rng, 16), nil))
	assert.Equal(t, 9, idx.Len())

	// the two oldest are gone, the newest survives
	_, ok := idx.Get("e0")
	assert.False(t, ok)
	_, ok = idx.Get("e1")
	assert.False(t, ok)
	_, ok = idx.Get("e10")
	assert.True(t, ok)

	total := 0
	idx.mu.RLock()
	for _, members := range idx.buckets {
		total += len(members)
	}
	idx.mu.RUnlock()
	assert.Equal(t, 9, total, "bucket membership must match entries")
}

func TestRemove(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2})
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, nil))

	assert.True(t, idx.Remove("a"))
	assert.False(t, idx.Remove("a"))
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.BucketCount())
	assert.Empty(t, idx.Search([]float32{1, 0}, 5))
}

func TestRemoveWhere(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2})
	require.NoError(t, idx.Upsert("r1#request", []float32{1, 0}, map[string]string{"record_id": "r1"}))
	require.NoError(t, idx.Upsert("r1#summary", []float32{0, 1}, map[string]string{"record_id": "r1"}))
	require.NoError(t, idx.Upsert("r2#request", []float32{1, 1}, map[string]string{"record_id": "r2"}))

	removed := idx.RemoveWhere(func(tags map[string]string) bool {
		return tags["record_id"] == "r1"
	})
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, idx.Len())
}

func TestClear(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 2})
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, nil))
	require.NoError(t, idx.Upsert("b", []float32{0, 1}, nil))

	idx.Clear()
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.BucketCount())
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"empty", nil, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"mismatched uses prefix", []float32{1, 0, 5}, []float32{1, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 32, MaxItems: 100})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 50; i++ {
				v := randomUnitVector(rng, 32)
				_ = idx.Upsert(fmt.Sprintf("w%d-%d", w, i), v, nil)
				_ = idx.Search(v, 5)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, idx.Len(), 100)
}

func TestFragments(t *testing.T) {
	idx, err := New(Config{Dimension: 3})
	require.NoError(t, err)

	assert.Equal(t, "r1#request", FragmentID("r1", "request", -1))
	assert.Equal(t, "r1#response#2", FragmentID("r1", "response", 2))

	require.NoError(t, idx.Upsert(FragmentID("r1", "request", -1), []float32{1, 0, 0}, FragmentTags("r1", "request", "a")))
	require.NoError(t, idx.Upsert(FragmentID("r1", "response", 0), []float32{0, 1, 0}, FragmentTags("r1", "response", "b")))
	require.NoError(t, idx.Upsert(FragmentID("r1", "response", 1), []float32{0, 0, 1}, FragmentTags("r1", "response", "c")))
	require.NoError(t, idx.Upsert(FragmentID("r2", "request", -1), []float32{1, 1, 0}, FragmentTags("r2", "request", "d")))

	assert.Equal(t, 2, idx.RemoveField("r1", "response"))
	assert.Equal(t, 2, idx.Len())

	assert.Equal(t, 1, idx.RemoveRecord("r1"))
	_, ok := idx.Get("r2#request")
	assert.True(t, ok)
	assert.Equal(t, 1, idx.Len())
}
