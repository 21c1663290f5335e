package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in   string
		want FieldName
	}{
		{"response", FieldResponse},
		{"toolResponse", FieldToolResponse},
		{"toolContent", FieldToolResponse},
		{"toolResult", FieldToolResponse},
		{"tool_response", FieldToolResponse},
		{" summary ", FieldSummary},
		{"metadata", FieldMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseField(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "request", "Response", "tool"} {
		_, err := ParseField(bad)
		assert.ErrorIs(t, err, ErrUnknownField, bad)
		assert.True(t, IsValidation(err))
	}
}

func TestMerge(t *testing.T) {
	rec := &Record{ID: "r"}

	assert.True(t, rec.Merge(FieldResponse, "first"))
	assert.True(t, rec.Merge(FieldResponse, "second"))
	assert.Equal(t, "first\nsecond", rec.Response)

	assert.True(t, rec.Merge(FieldSummary, "kept"))
	assert.False(t, rec.Merge(FieldSummary, "ignored"))
	assert.Equal(t, "kept", rec.Summary)

	assert.False(t, rec.Merge(FieldToolResponse, ""))
	assert.Empty(t, rec.ToolResponse)
}

func TestEmbeddingsAccessors(t *testing.T) {
	rec := &Record{ID: "r", Request: "q", Summary: "s"}
	assert.Equal(t, []FieldName{FieldRequest, FieldSummary}, rec.MissingEmbeddings())
	assert.False(t, rec.HasEmbeddings())
	assert.Nil(t, rec.PrimaryVector())

	rec.SetEmbedding(FieldSummary, FieldEmbedding{Vector: []float32{0, 1}, Chunks: [][]float32{{1, 0}}})
	assert.Equal(t, []FieldName{FieldRequest}, rec.MissingEmbeddings())
	assert.Equal(t, []float32{0, 1}, rec.PrimaryVector())
	assert.Len(t, rec.AllVectors(), 2)

	rec.SetEmbedding(FieldRequest, FieldEmbedding{Vector: []float32{1, 1}})
	assert.Equal(t, []float32{1, 1}, rec.PrimaryVector())
	assert.Empty(t, rec.MissingEmbeddings())

	rec.SetEmbedding(FieldSummary, FieldEmbedding{})
	_, ok := rec.Embeddings[FieldSummary]
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	rec := &Record{ID: "r", Request: "q"}
	rec.SetEmbedding(FieldRequest, FieldEmbedding{Vector: []float32{1, 2}, Chunks: [][]float32{{3}}})

	dup := rec.Clone()
	dup.Request = "changed"
	dup.Embeddings[FieldRequest].Vector[0] = 9
	dup.Embeddings[FieldRequest].Chunks[0][0] = 9

	assert.Equal(t, "q", rec.Request)
	assert.Equal(t, float32(1), rec.Embedding(FieldRequest).Vector[0])
	assert.Equal(t, float32(3), rec.Embedding(FieldRequest).Chunks[0][0])
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestIsEmptyAndValidate(t *testing.T) {
	assert.True(t, (&Record{ID: "r"}).IsEmpty())
	assert.False(t, (&Record{ID: "r", Metadata: "m"}).IsEmpty())
	assert.False(t, (&Record{ID: "r", ToolResponse: "t"}).IsEmpty())

	assert.ErrorIs(t, (&Record{ID: " "}).Validate(), ErrEmptyID)
	assert.NoError(t, (&Record{ID: "r"}).Validate())
}

func TestScoredRecordValidate(t *testing.T) {
	ok := ScoredRecord{Record: &Record{ID: "r"}, Score: 0.5, Rank: 1}
	assert.NoError(t, ok.Validate())

	noRank := ok
	noRank.Rank = 0
	assert.ErrorIs(t, noRank.Validate(), ErrInvalidRank)

	badScore := ok
	badScore.Score = 1.5
	assert.ErrorIs(t, badScore.Validate(), ErrInvalidRelevanceScore)

	assert.ErrorIs(t, (&ScoredRecord{Rank: 1}).Validate(), ErrEmptyID)
}
