package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recallkit/pkg/types"
)

func TestRecordCache_PutAfterInvalidateIsDropped(t *testing.T) {
	c := newRecordCache(10, 0)

	// A reader misses and reads the old row; the writer lands before it caches
	ticket := c.ticket("k")
	old := &types.Record{ID: "k", Response: "a"}
	c.invalidate("k")

	assert.False(t, c.put(ticket, old))
	_, ok := c.get("k")
	assert.False(t, ok)

	fresh := c.ticket("k")
	assert.True(t, c.put(fresh, &types.Record{ID: "k", Response: "a\nb"}))
	rec, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "a\nb", rec.Response)
}

func TestRecordCache_PutAfterPurgeIsDropped(t *testing.T) {
	c := newRecordCache(10, 0)

	ticket := c.ticket("k")
	c.purge()

	assert.False(t, c.put(ticket, &types.Record{ID: "k"}))
	assert.Equal(t, 0, c.len())
}

func TestRecordCache_OtherKeysUnaffected(t *testing.T) {
	c := newRecordCache(10, 0)

	ticket := c.ticket("a")
	c.invalidate("b")

	assert.True(t, c.put(ticket, &types.Record{ID: "a"}))
	assert.Equal(t, 1, c.len())
}

func TestRecordCache_GenerationsDroppedWhenIdle(t *testing.T) {
	c := newRecordCache(10, 0)

	// No reader in flight, nothing to track
	c.invalidate("a")
	assert.Empty(t, c.gens)

	ticket := c.ticket("a")
	c.invalidate("a")
	assert.Len(t, c.gens, 1)
	c.put(ticket, &types.Record{ID: "a"})
	assert.Empty(t, c.gens)

	c.ticket("b")
	c.invalidate("b")
	c.release()
	assert.Empty(t, c.gens)
}

func TestGetRecord_StaleReadNotCached(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	insertTestRecord(t, s, &types.Record{ID: "k", Request: "q", Response: "a"})

	// Interleave a cache-miss read with a committed update
	ticket := s.cache.ticket("k")
	old, err := s.getRecordWithQuerier(ctx, s.querier(), "k")
	require.NoError(t, err)

	updated := old.Clone()
	updated.Response = "a\nb"
	require.NoError(t, s.UpdateRecord(ctx, updated))
	s.cache.put(ticket, old)

	got, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got.Response)
}
