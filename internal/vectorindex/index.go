// Package vectorindex implements an in-memory approximate nearest neighbour
// index using random-hyperplane locality-sensitive hashing.
//
// Each vector is hashed to an H-bit code, one bit per hyperplane, set when the
// vector lies on the non-negative side of that hyperplane. Vectors that point in
// similar directions agree on most bits. The code modulo the bucket count picks a
// bucket; a query scans its own bucket plus the two adjacent ones and re-scores
// every candidate with exact cosine similarity against the stored raw vectors.
//
// # Basic Usage
//
//	idx, err := vectorindex.New(vectorindex.Config{Dimension: 384})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	idx.Upsert("conv-1#request", vector, map[string]string{"text": "..."})
//	results := idx.Search(query, 10)
//
// The index is safe for concurrent use.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Defaults
const (
	DefaultHyperplanes = 16
	DefaultBuckets     = 1024
	DefaultMaxItems    = 10000
	DefaultSeed        = 42

	// maxHyperplanes keeps codes within a uint64
	maxHyperplanes = 63

	// evictionTarget is the fraction of MaxItems kept after eviction
	evictionTarget = 0.9
)

var (
	ErrInvalidDimension = errors.New("dimension must be positive")
	ErrEmptyID          = errors.New("entry id cannot be empty")
)

// Config holds index parameters
type Config struct {
	Dimension   int     // Vector width, must match the embedding provider
	Hyperplanes int     // Bits per hash code
	Buckets     int     // Number of buckets codes are folded into
	Threshold   float64 // Minimum cosine similarity returned by Search
	MaxItems    int     // Entry count that triggers eviction
	Seed        int64   // Hyperplane generator seed
}

func (c *Config) applyDefaults() {
	if c.Hyperplanes <= 0 {
		c.Hyperplanes = DefaultHyperplanes
	}
	if c.Hyperplanes > maxHyperplanes {
		c.Hyperplanes = maxHyperplanes
	}
	if c.Buckets <= 0 {
		c.Buckets = DefaultBuckets
	}
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
}

// Entry is a stored vector with its tags
type Entry struct {
	ID        string
	Vector    []float32
	Tags      map[string]string
	Timestamp time.Time

	seq    uint64
	bucket int
}

// Result is a scored search hit
type Result struct {
	ID         string
	Similarity float64
	Tags       map[string]string
}

// Index is a random-hyperplane LSH index with exact cosine re-ranking
type Index struct {
	cfg         Config
	hyperplanes [][]float32

	mu      sync.RWMutex
	entries map[string]*Entry
	buckets map[int]map[string]struct{}
	seq     uint64
}

// New creates an index, drawing the hyperplanes once from the seeded source
func New(cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	cfg.applyDefaults()

	return &Index{
		cfg:         cfg,
		hyperplanes: GenerateHyperplanes(cfg.Hyperplanes, cfg.Dimension, cfg.Seed),
		entries:     make(map[string]*Entry),
		buckets:     make(map[int]map[string]struct{}),
	}, nil
}

// GenerateHyperplanes draws n hyperplane normals of width dim with Gaussian
// components. The same seed always yields the same hyperplanes.
func GenerateHyperplanes(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	planes := make([][]float32, n)
	for i := range planes {
		plane := make([]float32, dim)
		for j := range plane {
			plane[j] = float32(rng.NormFloat64())
		}
		planes[i] = plane
	}
	return planes
}

// HashWith computes the LSH code of v against the given hyperplanes:
// bit i is set when dot(v, planes[i]) >= 0.
func HashWith(planes [][]float32, v []float32) uint64 {
	var code uint64
	for i, plane := range planes {
		if dot(v, plane) >= 0 {
			code |= 1 << uint(i)
		}
	}
	return code
}

// Hash returns the LSH code of v
func (idx *Index) Hash(v []float32) uint64 {
	return HashWith(idx.hyperplanes, v)
}

// Bucket returns the bucket v falls into
func (idx *Index) Bucket(v []float32) int {
	return int(idx.Hash(v) % uint64(idx.cfg.Buckets))
}

// Config returns the effective configuration
func (idx *Index) Config() Config {
	return idx.cfg
}

// Upsert inserts or replaces the entry for id. A replaced entry leaves its
// previous bucket before joining the new one.
func (idx *Index) Upsert(id string, vector []float32, tags map[string]string) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(vector) == 0 {
		return fmt.Errorf("vector for %q is empty", id)
	}

	stored := append([]float32(nil), vector...)
	bucket := idx.Bucket(stored)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, ok := idx.entries[id]; ok {
		idx.leaveBucket(prev.ID, prev.bucket)
	}

	idx.seq++
	idx.entries[id] = &Entry{
		ID:        id,
		Vector:    stored,
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
		seq:       idx.seq,
		bucket:    bucket,
	}
	members, ok := idx.buckets[bucket]
	if !ok {
		members = make(map[string]struct{})
		idx.buckets[bucket] = members
	}
	members[id] = struct{}{}

	if len(idx.entries) > idx.cfg.MaxItems {
		idx.evictLocked()
	}
	return nil
}

// Remove deletes the entry for id and reports whether it existed
func (idx *Index) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[id]
	if !ok {
		return false
	}
	idx.leaveBucket(id, e.bucket)
	delete(idx.entries, id)
	return true
}

// RemoveWhere deletes every entry whose tags satisfy match and returns the count
func (idx *Index) RemoveWhere(match func(tags map[string]string) bool) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for id, e := range idx.entries {
		if match(e.Tags) {
			idx.leaveBucket(id, e.bucket)
			delete(idx.entries, id)
			removed++
		}
	}
	return removed
}

// Search returns up to topK entries with similarity >= Threshold, best first
func (idx *Index) Search(query []float32, topK int) []Result {
	if topK <= 0 || len(query) == 0 {
		return nil
	}
	bucket := idx.Bucket(query)
	n := idx.cfg.Buckets
	probe := []int{bucket}
	if n > 1 {
		probe = append(probe, (bucket+n-1)%n)
	}
	if n > 2 {
		probe = append(probe, (bucket+1)%n)
	}

	idx.mu.RLock()
	results := make([]Result, 0)
	for _, b := range probe {
		for id := range idx.buckets[b] {
			e := idx.entries[id]
			sim := CosineSimilarity(query, e.Vector)
			if sim < idx.cfg.Threshold {
				continue
			}
			results = append(results, Result{ID: id, Similarity: sim, Tags: copyTags(e.Tags)})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Get returns a copy of the entry for id
func (idx *Index) Get(id string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		ID:        e.ID,
		Vector:    append([]float32(nil), e.Vector...),
		Tags:      copyTags(e.Tags),
		Timestamp: e.Timestamp,
	}, true
}

// Len returns the number of stored entries
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// BucketCount returns the number of non-empty buckets
func (idx *Index) BucketCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.buckets)
}

// Clear removes every entry. Hyperplanes are kept.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]*Entry)
	idx.buckets = make(map[int]map[string]struct{})
}

// evictLocked removes the oldest entries down to evictionTarget*MaxItems
func (idx *Index) evictLocked() {
	target := int(float64(idx.cfg.MaxItems) * evictionTarget)
	excess := len(idx.entries) - target
	if excess <= 0 {
		return
	}

	oldest := make([]*Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		oldest = append(oldest, e)
	}
	sort.Slice(oldest, func(i, j int) bool {
		return oldest[i].seq < oldest[j].seq
	})
	for _, e := range oldest[:excess] {
		idx.leaveBucket(e.ID, e.bucket)
		delete(idx.entries, e.ID)
	}
}

func (idx *Index) leaveBucket(id string, bucket int) {
	members := idx.buckets[bucket]
	delete(members, id)
	if len(members) == 0 {
		delete(idx.buckets, bucket)
	}
}

// CosineSimilarity computes dot(a,b)/(|a||b|). Empty or zero vectors score 0;
// vectors of different length are compared over their common prefix.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	dst := make(map[string]string, len(tags))
	for k, v := range tags {
		dst[k] = v
	}
	return dst
}
