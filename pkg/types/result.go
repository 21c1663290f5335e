package types

// MatchSource names the search pass that produced a score
type MatchSource string

const (
	MatchLexical MatchSource = "lexical"
	MatchLSH     MatchSource = "lsh"
	MatchVector  MatchSource = "vector"
)

// ScoredRecord is a single search result
type ScoredRecord struct {
	Record *Record
	Score  float64     // Best score across passes, in [0, 1] for lexical and cosine
	Source MatchSource // Pass that produced Score
	Rank   int         // Position in result set (1-based)
}

// Validate checks if the search result is valid
func (sr *ScoredRecord) Validate() error {
	if sr.Record == nil || sr.Record.ID == "" {
		return ErrEmptyID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Score < -1 || sr.Score > 1 {
		return ErrInvalidRelevanceScore
	}
	return nil
}
