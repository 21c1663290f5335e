// Package searcher ranks stored records against a free-text query.
//
// Every search runs three passes concurrently and fuses them:
//
//   - Lexical: the query is tokenized (lowercased, punctuation stripped, stop
//     words dropped), the store's FTS5 index supplies candidates, and each
//     candidate is scored with WordMatchScore over the fields selected by the
//     search level. Matching is whole-word only.
//   - Secondary LSH: the query embedding is hashed against the store's
//     multi-table LSH and each candidate row is re-scored by exact cosine
//     similarity against its primary vector.
//   - Vector index: the standalone in-memory index returns similar fragments,
//     which are resolved back to records through their source text.
//
// Fusion keeps the best score per record, drops anything under MinSimilarity,
// sorts by score (ties by record id) and truncates to TopK.
//
// # Basic Usage
//
//	s := searcher.New(store, emb, index, logger)
//
//	results, err := s.Search(ctx, searcher.Request{
//	    Query:         "reset my password",
//	    TopK:          10,
//	    MinSimilarity: 0.2,
//	    Level:         searcher.LevelResponse,
//	})
//
// # Degradation
//
// A blank query returns no results and no error. When the embedding provider
// fails, only the lexical pass contributes. Any pass that errors is logged and
// skipped so a partial ranking is still returned.
package searcher
