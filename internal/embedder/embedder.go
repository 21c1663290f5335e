package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/recallkit/pkg/types"
)

// Provider failures wrap types.ErrProviderUnavailable so the engine can
// degrade instead of failing.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = fmt.Errorf("embedding provider failed: %w", types.ErrProviderUnavailable)
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one text's vector and the model that produced it
type Embedding struct {
	Vector   []float32
	Provider string
	Model    string
}

type EmbeddingRequest struct {
	Text string
}

type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse holds one embedding per request text, in order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder produces fixed-width vectors. Dimension is constant for the
// lifetime of an Embedder and sizes every index built from it.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Embed returns the vector for text, checking that its width matches the
// provider's declared dimension
func Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if len(emb.Vector) != e.Dimension() {
		return nil, fmt.Errorf("%w: %s returned %d dimensions, expected %d",
			ErrProviderFailed, e.Provider(), len(emb.Vector), e.Dimension())
	}
	return emb.Vector, nil
}

// Cache is an LRU of embeddings keyed by the SHA-256 of their text. Values
// are copied in and out.
type Cache struct {
	lru *lru.Cache[string, *Embedding]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Embedding](size)
	if err != nil {
		c, _ = lru.New[string, *Embedding](DefaultCacheSize)
	}
	return &Cache{lru: c}
}

func (c *Cache) Get(text string) (*Embedding, bool) {
	emb, ok := c.lru.Get(textKey(text))
	if !ok {
		return nil, false
	}
	return cloneEmbedding(emb), true
}

func (c *Cache) Set(text string, emb *Embedding) {
	c.lru.Add(textKey(text), cloneEmbedding(emb))
}

func cloneEmbedding(emb *Embedding) *Embedding {
	dup := *emb
	dup.Vector = append([]float32(nil), emb.Vector...)
	return &dup
}

func textKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func validateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	return nil
}

func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// normalize scales v to unit length; a zero vector is returned as is
func normalize(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / norm)
	}
	return out
}
