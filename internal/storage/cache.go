package storage

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dshills/recallkit/pkg/types"
)

// Point-read cache defaults
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// recordCache caches point reads by record id. Values are private copies so
// callers can never mutate a cached record.
//
// A reader that misses takes a generation ticket before reading the row and
// hands it back to put. Any invalidate in between bumps the key's generation,
// so a row read before a write can never be cached after it. Generations are
// only compared against outstanding tickets, so the map is dropped whenever
// no read is in flight.
type recordCache struct {
	lru *expirable.LRU[string, *types.Record]

	mu       sync.Mutex
	epoch    uint64
	gens     map[string]uint64
	inflight int
}

// cacheTicket identifies the cache state a reader observed before its read
type cacheTicket struct {
	epoch uint64
	gen   uint64
}

func newRecordCache(size int, ttl time.Duration) *recordCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &recordCache{
		lru:  expirable.NewLRU[string, *types.Record](size, nil, ttl),
		gens: make(map[string]uint64),
	}
}

func (c *recordCache) get(id string) (*types.Record, bool) {
	rec, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ticket must be taken before the database read whose result goes to put
func (c *recordCache) ticket(id string) cacheTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight++
	return cacheTicket{epoch: c.epoch, gen: c.gens[id]}
}

// release returns a ticket whose read produced nothing to cache
func (c *recordCache) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

func (c *recordCache) releaseLocked() {
	c.inflight--
	if c.inflight == 0 && len(c.gens) > 0 {
		clear(c.gens)
	}
}

// put caches rec unless the key was invalidated since t was taken
func (c *recordCache) put(t cacheTicket, rec *types.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	stale := t.epoch != c.epoch || t.gen != c.gens[rec.ID]
	c.releaseLocked()
	if stale {
		return false
	}
	c.lru.Add(rec.ID, rec.Clone())
	return true
}

func (c *recordCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight > 0 {
		c.gens[id]++
	}
	c.lru.Remove(id)
}

func (c *recordCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.gens)
	c.lru.Purge()
}

func (c *recordCache) len() int {
	return c.lru.Len()
}
