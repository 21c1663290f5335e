package storage

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dshills/recallkit/internal/vectorindex"
)

// Secondary LSH defaults
const (
	DefaultLSHTables      = 4
	DefaultLSHHyperplanes = 12
	DefaultLSHSeed        = 1337

	// candidateOverfetch multiplies topK when collecting candidates
	candidateOverfetch = 2
)

// LSHConfig holds the secondary LSH parameters
type LSHConfig struct {
	Dimension   int
	Tables      int
	Hyperplanes int
	Seed        int64
}

func (c *LSHConfig) applyDefaults() {
	if c.Tables <= 0 {
		c.Tables = DefaultLSHTables
	}
	if c.Hyperplanes <= 0 {
		c.Hyperplanes = DefaultLSHHyperplanes
	}
	if c.Hyperplanes > 63 {
		c.Hyperplanes = 63
	}
	if c.Seed == 0 {
		c.Seed = DefaultLSHSeed
	}
}

// LSHStats describes the secondary LSH contents
type LSHStats struct {
	Tables  int // Number of hash tables
	Buckets int // Non-empty buckets summed over tables
	Entries int // Bucket memberships summed over tables
	Rows    int // Distinct rows with at least one membership
}

type membership struct {
	table int
	code  uint64
}

// LSHIndex is a multi-table random-hyperplane LSH over store row ids. Each
// bucket is a roaring bitmap of the rows owning a vector that hashed there.
// Bucket assignments live only in memory and are rebuilt from stored vectors.
type LSHIndex struct {
	cfg    LSHConfig
	planes [][][]float32 // per table

	mu      sync.RWMutex
	tables  []map[uint64]*roaring.Bitmap
	members map[int64][]membership
}

// NewLSHIndex creates an empty secondary LSH
func NewLSHIndex(cfg LSHConfig) (*LSHIndex, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("lsh dimension must be positive, got %d", cfg.Dimension)
	}
	cfg.applyDefaults()

	planes := make([][][]float32, cfg.Tables)
	for t := range planes {
		planes[t] = vectorindex.GenerateHyperplanes(cfg.Hyperplanes, cfg.Dimension, cfg.Seed+int64(t)*7919)
	}

	idx := &LSHIndex{
		cfg:     cfg,
		planes:  planes,
		members: make(map[int64][]membership),
	}
	idx.resetTables()
	return idx, nil
}

func (l *LSHIndex) resetTables() {
	l.tables = make([]map[uint64]*roaring.Bitmap, l.cfg.Tables)
	for t := range l.tables {
		l.tables[t] = make(map[uint64]*roaring.Bitmap)
	}
}

// Config returns the effective configuration
func (l *LSHIndex) Config() LSHConfig {
	return l.cfg
}

// Replace drops every prior membership of rowID and indexes each vector once
// per table. It returns the number of prior memberships that the new vectors
// no longer reproduce.
func (l *LSHIndex) Replace(rowID int64, vectors [][]float32) (stale int, err error) {
	if rowID <= 0 || rowID > math.MaxUint32 {
		return 0, fmt.Errorf("row id %d out of range for lsh", rowID)
	}

	next := make([]membership, 0, len(vectors)*l.cfg.Tables)
	seen := make(map[membership]bool)
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		for t, planes := range l.planes {
			m := membership{table: t, code: vectorindex.HashWith(planes, v)}
			if !seen[m] {
				seen[m] = true
				next = append(next, m)
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.members[rowID] {
		if !seen[m] {
			stale++
		}
	}
	l.removeLocked(rowID)

	if len(next) == 0 {
		return stale, nil
	}
	row := uint32(rowID)
	for _, m := range next {
		bucket, ok := l.tables[m.table][m.code]
		if !ok {
			bucket = roaring.New()
			l.tables[m.table][m.code] = bucket
		}
		bucket.Add(row)
	}
	l.members[rowID] = next
	return stale, nil
}

// Remove drops every membership of rowID
func (l *LSHIndex) Remove(rowID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(rowID)
}

func (l *LSHIndex) removeLocked(rowID int64) {
	row := uint32(rowID)
	for _, m := range l.members[rowID] {
		bucket, ok := l.tables[m.table][m.code]
		if !ok {
			continue
		}
		bucket.Remove(row)
		if bucket.IsEmpty() {
			delete(l.tables[m.table], m.code)
		}
	}
	delete(l.members, rowID)
}

// Candidates returns up to 2*topK row ids colliding with query in any table,
// ranked by the number of tables they collided in
func (l *LSHIndex) Candidates(query []float32, topK int) []int64 {
	if topK <= 0 || len(query) == 0 {
		return nil
	}

	codes := make([]uint64, len(l.planes))
	for t, planes := range l.planes {
		codes[t] = vectorindex.HashWith(planes, query)
	}

	votes := make(map[uint32]int)
	union := roaring.New()

	l.mu.RLock()
	for t, code := range codes {
		bucket, ok := l.tables[t][code]
		if !ok {
			continue
		}
		union.Or(bucket)
		it := bucket.Iterator()
		for it.HasNext() {
			votes[it.Next()]++
		}
	}
	l.mu.RUnlock()

	rows := union.ToArray()
	sort.Slice(rows, func(i, j int) bool {
		if votes[rows[i]] != votes[rows[j]] {
			return votes[rows[i]] > votes[rows[j]]
		}
		return rows[i] < rows[j]
	})

	limit := topK * candidateOverfetch
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = int64(r)
	}
	return out
}

// Memberships returns how many buckets rowID currently belongs to
func (l *LSHIndex) Memberships(rowID int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members[rowID])
}

// Clear removes every membership. Hyperplanes are kept.
func (l *LSHIndex) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetTables()
	l.members = make(map[int64][]membership)
}

// Stats reports the current bucket and membership counts
func (l *LSHIndex) Stats() LSHStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := LSHStats{Tables: len(l.tables), Rows: len(l.members)}
	for _, table := range l.tables {
		stats.Buckets += len(table)
		for _, bucket := range table {
			stats.Entries += int(bucket.GetCardinality())
		}
	}
	return stats
}
