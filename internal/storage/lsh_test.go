package storage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLSH(t *testing.T) *LSHIndex {
	idx, err := NewLSHIndex(LSHConfig{Dimension: 16})
	require.NoError(t, err)
	return idx
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestNewLSHIndex_Defaults(t *testing.T) {
	idx := newTestLSH(t)
	cfg := idx.Config()
	assert.Equal(t, DefaultLSHTables, cfg.Tables)
	assert.Equal(t, DefaultLSHHyperplanes, cfg.Hyperplanes)

	_, err := NewLSHIndex(LSHConfig{})
	assert.Error(t, err)
}

func TestLSH_ReplaceAndCandidates(t *testing.T) {
	idx := newTestLSH(t)
	rng := rand.New(rand.NewSource(9))

	v := randomVector(rng, 16)
	stale, err := idx.Replace(1, [][]float32{v})
	require.NoError(t, err)
	assert.Equal(t, 0, stale)
	assert.Equal(t, DefaultLSHTables, idx.Memberships(1))

	// An identical query collides in every table
	assert.Equal(t, []int64{1}, idx.Candidates(v, 5))
}

func TestLSH_ReplaceDropsPriorMemberships(t *testing.T) {
	idx := newTestLSH(t)

	first := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	second := make([]float32, 16)
	for i := range first {
		second[i] = -first[i]
	}

	_, err := idx.Replace(7, [][]float32{first})
	require.NoError(t, err)

	stale, err := idx.Replace(7, [][]float32{second})
	require.NoError(t, err)
	// Opposite vectors share no hash code in any table
	assert.Equal(t, DefaultLSHTables, stale)

	assert.Empty(t, idx.Candidates(first, 5))
	assert.Equal(t, []int64{7}, idx.Candidates(second, 5))

	stats := idx.Stats()
	assert.Equal(t, DefaultLSHTables, stats.Entries)
	assert.Equal(t, 1, stats.Rows)
}

func TestLSH_MultipleVectorsPerRow(t *testing.T) {
	idx := newTestLSH(t)
	rng := rand.New(rand.NewSource(2))

	a := randomVector(rng, 16)
	b := randomVector(rng, 16)
	_, err := idx.Replace(3, [][]float32{a, b, nil})
	require.NoError(t, err)

	assert.Equal(t, []int64{3}, idx.Candidates(a, 5))
	assert.Equal(t, []int64{3}, idx.Candidates(b, 5))
}

func TestLSH_CandidatesRankedAndBounded(t *testing.T) {
	idx := newTestLSH(t)
	rng := rand.New(rand.NewSource(4))

	query := randomVector(rng, 16)
	// Row 1 holds the query itself and collides in every table
	_, err := idx.Replace(1, [][]float32{query})
	require.NoError(t, err)
	for row := int64(2); row <= 50; row++ {
		_, err := idx.Replace(row, [][]float32{randomVector(rng, 16)})
		require.NoError(t, err)
	}

	candidates := idx.Candidates(query, 2)
	require.NotEmpty(t, candidates)
	assert.LessOrEqual(t, len(candidates), 4)
	assert.Equal(t, int64(1), candidates[0])

	assert.Empty(t, idx.Candidates(query, 0))
	assert.Empty(t, idx.Candidates(nil, 3))
}

func TestLSH_RemoveAndClear(t *testing.T) {
	idx := newTestLSH(t)
	v := []float32{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	_, err := idx.Replace(1, [][]float32{v})
	require.NoError(t, err)
	_, err = idx.Replace(2, [][]float32{v})
	require.NoError(t, err)

	idx.Remove(1)
	assert.Equal(t, []int64{2}, idx.Candidates(v, 5))

	idx.Clear()
	assert.Empty(t, idx.Candidates(v, 5))
	assert.Equal(t, LSHStats{Tables: DefaultLSHTables}, idx.Stats())
}

func TestLSH_ReplaceWithNoVectors(t *testing.T) {
	idx := newTestLSH(t)
	v := []float32{0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	_, err := idx.Replace(1, [][]float32{v})
	require.NoError(t, err)

	stale, err := idx.Replace(1, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultLSHTables, stale)
	assert.Equal(t, 0, idx.Memberships(1))
}

func TestLSH_RowIDRange(t *testing.T) {
	idx := newTestLSH(t)
	_, err := idx.Replace(0, [][]float32{{1}})
	assert.Error(t, err)
	_, err = idx.Replace(1<<33, [][]float32{{1}})
	assert.Error(t, err)
}
