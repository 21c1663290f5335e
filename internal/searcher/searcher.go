package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/pkg/types"
)

// Search levels select which fields the lexical pass scores
const (
	LevelRequest      = 1
	LevelResponse     = 2
	LevelToolResponse = 3
)

const (
	DefaultTopK = 10
	MaxTopK     = 100

	// minLexicalCandidates bounds how few FTS rows are scored per query
	minLexicalCandidates = 50
	// resolveLimit caps the records a single fragment text may resolve to
	resolveLimit = 5
)

// Request contains parameters for a search operation
type Request struct {
	Query         string
	TopK          int
	MinSimilarity float64
	Level         int // 1 request, 2 +response, 3 +tool response; 0 means 1
}

// Searcher fuses lexical, secondary-LSH and vector index results
type Searcher struct {
	store    storage.Storage
	embedder embedder.Embedder
	index    *vectorindex.Index
	logger   *logging.Logger
}

// New creates a Searcher. A nil embedder or index disables the passes that need them.
func New(store storage.Storage, emb embedder.Embedder, index *vectorindex.Index, logger *logging.Logger) *Searcher {
	return &Searcher{
		store:    store,
		embedder: emb,
		index:    index,
		logger:   logging.OrNoop(logger).WithComponent("searcher"),
	}
}

// Search runs the three passes concurrently and returns the fused ranking.
// A blank query yields no results. A failing pass is logged and contributes nothing.
func (s *Searcher) Search(ctx context.Context, req Request) ([]types.ScoredRecord, error) {
	start := time.Now()

	if err := normalizeRequest(&req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return []types.ScoredRecord{}, nil
	}

	var lexical, lsh, vector []types.ScoredRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = s.lexicalPass(gctx, req)
		if err != nil {
			s.logger.LogPassFailure(gctx, string(types.MatchLexical), err)
		}
		return nil
	})
	g.Go(func() error {
		lsh, vector = s.embeddingPasses(gctx, req)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := fuse(req.MinSimilarity, req.TopK, lexical, lsh, vector)
	s.logger.LogSearch(ctx, req.Level, req.TopK, len(results), time.Since(start))
	return results, nil
}

func normalizeRequest(req *Request) error {
	if req.Level == 0 {
		req.Level = LevelRequest
	}
	if req.Level < LevelRequest || req.Level > LevelToolResponse {
		return fmt.Errorf("%w: %w: got %d", types.ErrValidation, types.ErrInvalidSearchLevel, req.Level)
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
	return nil
}

// LevelFields returns the fields scored lexically at the given level
func LevelFields(level int) []types.FieldName {
	switch level {
	case LevelResponse:
		return []types.FieldName{types.FieldRequest, types.FieldResponse}
	case LevelToolResponse:
		return []types.FieldName{types.FieldRequest, types.FieldResponse, types.FieldToolResponse}
	default:
		return []types.FieldName{types.FieldRequest}
	}
}

// lexicalPass scores FTS candidates with whole-word matching over the level's fields
func (s *Searcher) lexicalPass(ctx context.Context, req Request) ([]types.ScoredRecord, error) {
	words := Tokenize(req.Query)
	if len(words) == 0 {
		return nil, nil
	}

	limit := req.TopK * 4
	if limit < minLexicalCandidates {
		limit = minLexicalCandidates
	}
	fields := LevelFields(req.Level)
	candidates, err := s.store.SearchText(ctx, words, fields, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	results := make([]types.ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		best := 0.0
		for _, f := range fields {
			if score := WordMatchScore(words, rec.Text(f)); score > best {
				best = score
			}
		}
		if best > 0 {
			results = append(results, types.ScoredRecord{Record: rec, Score: best, Source: types.MatchLexical})
		}
	}
	return results, nil
}

// embeddingPasses embeds the query once and runs the secondary-LSH and vector
// index passes concurrently
func (s *Searcher) embeddingPasses(ctx context.Context, req Request) (lsh, vector []types.ScoredRecord) {
	if s.embedder == nil {
		return nil, nil
	}
	query, err := embedder.Embed(ctx, s.embedder, req.Query)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.LogPassFailure(ctx, "embed", err)
		}
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lsh, err = s.lshPass(gctx, query, req)
		if err != nil {
			s.logger.LogPassFailure(gctx, string(types.MatchLSH), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		vector, err = s.vectorPass(gctx, query, req)
		if err != nil {
			s.logger.LogPassFailure(gctx, string(types.MatchVector), err)
		}
		return nil
	})
	_ = g.Wait()
	return lsh, vector
}

// lshPass re-scores secondary-LSH candidates against each row's primary vector
func (s *Searcher) lshPass(ctx context.Context, query []float32, req Request) ([]types.ScoredRecord, error) {
	rowIDs := s.store.LSH().Candidates(query, req.TopK)

	results := make([]types.ScoredRecord, 0, len(rowIDs))
	for _, rowID := range rowIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		rec, err := s.store.GetRecordByRowID(ctx, rowID)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return results, fmt.Errorf("load row %d: %w", rowID, err)
		}
		primary := rec.PrimaryVector()
		if len(primary) == 0 {
			continue
		}
		sim := vectorindex.CosineSimilarity(query, primary)
		if sim < req.MinSimilarity {
			continue
		}
		results = append(results, types.ScoredRecord{Record: rec, Score: sim, Source: types.MatchLSH})
	}
	return results, nil
}

// vectorPass queries the standalone index and resolves each fragment back to
// its records through the fragment text
func (s *Searcher) vectorPass(ctx context.Context, query []float32, req Request) ([]types.ScoredRecord, error) {
	if s.index == nil {
		return nil, nil
	}
	hits := s.index.Search(query, req.TopK*2)

	var results []types.ScoredRecord
	for _, hit := range hits {
		if hit.Similarity < req.MinSimilarity {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		records, err := s.resolveFragment(ctx, hit)
		if err != nil {
			return results, err
		}
		for _, rec := range records {
			results = append(results, types.ScoredRecord{Record: rec, Score: hit.Similarity, Source: types.MatchVector})
		}
	}
	return results, nil
}

func (s *Searcher) resolveFragment(ctx context.Context, hit vectorindex.Result) ([]*types.Record, error) {
	if text := hit.Tags[vectorindex.TagText]; strings.TrimSpace(text) != "" {
		records, err := s.store.FindByText(ctx, text, resolveLimit)
		if err != nil {
			return nil, fmt.Errorf("resolve fragment %s: %w", hit.ID, err)
		}
		if len(records) > 0 {
			return records, nil
		}
	}

	// The text may have grown since the fragment was indexed
	id := hit.Tags[vectorindex.TagRecordID]
	if id == "" {
		return nil, nil
	}
	rec, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve fragment %s: %w", hit.ID, err)
	}
	return []*types.Record{rec}, nil
}

// fuse unions the pass results by record id keeping the best score, drops
// scores below minSimilarity and returns the top K, ties broken by id
func fuse(minSimilarity float64, topK int, passes ...[]types.ScoredRecord) []types.ScoredRecord {
	best := make(map[string]types.ScoredRecord)
	for _, pass := range passes {
		for _, r := range pass {
			if r.Record == nil || r.Record.ID == "" {
				continue
			}
			if cur, ok := best[r.Record.ID]; !ok || r.Score > cur.Score {
				best[r.Record.ID] = r
			}
		}
	}

	results := make([]types.ScoredRecord, 0, len(best))
	for _, r := range best {
		if r.Score < minSimilarity {
			continue
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
