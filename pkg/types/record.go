package types

import (
	"fmt"
	"strings"
	"time"
)

// FieldName identifies one of a record's text fields
type FieldName string

const (
	FieldRequest      FieldName = "request"
	FieldResponse     FieldName = "response"
	FieldToolResponse FieldName = "tool_response"
	FieldSummary      FieldName = "summary"
	FieldMetadata     FieldName = "metadata"
)

// EmbeddableFields lists the fields that own vectors, in primary-first order
var EmbeddableFields = []FieldName{FieldRequest, FieldResponse, FieldToolResponse, FieldSummary}

// MergePolicy describes how a later write combines with the stored value
type MergePolicy int

const (
	// MergeAppend concatenates the new text after the stored text
	MergeAppend MergePolicy = iota
	// MergeIfAbsent writes the new text only when the stored text is empty
	MergeIfAbsent
)

// appendSeparator joins appended fragments
const appendSeparator = "\n"

// ParseField maps a public field name to its storage field.
// The tool aliases all address the tool-use response.
func ParseField(name string) (FieldName, error) {
	switch strings.TrimSpace(name) {
	case "response":
		return FieldResponse, nil
	case "toolResponse", "toolContent", "toolResult", "tool_response":
		return FieldToolResponse, nil
	case "summary":
		return FieldSummary, nil
	case "metadata":
		return FieldMetadata, nil
	default:
		return "", fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnknownField, name)
	}
}

// Policy returns the merge policy for the field
func (f FieldName) Policy() MergePolicy {
	switch f {
	case FieldResponse, FieldToolResponse:
		return MergeAppend
	default:
		return MergeIfAbsent
	}
}

// Embeddable reports whether the field owns vectors
func (f FieldName) Embeddable() bool {
	for _, e := range EmbeddableFields {
		if e == f {
			return true
		}
	}
	return false
}

// FieldEmbedding holds the vectors owned by one field
type FieldEmbedding struct {
	Vector []float32   // Whole-field vector, nil when absent
	Chunks [][]float32 // Sliding-window chunk vectors, nil when the text is short or unembedded
}

// Empty reports whether the field owns no vectors at all
func (e FieldEmbedding) Empty() bool {
	return len(e.Vector) == 0 && len(e.Chunks) == 0
}

// Record is the addressable unit of stored conversational data
type Record struct {
	RowID        int64 // Store-assigned, 0 until persisted
	ID           string
	Request      string
	Response     string
	ToolResponse string
	Summary      string
	Metadata     string
	Rating       int
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Embeddings map[FieldName]FieldEmbedding
}

// Text returns the text stored in field f
func (r *Record) Text(f FieldName) string {
	switch f {
	case FieldRequest:
		return r.Request
	case FieldResponse:
		return r.Response
	case FieldToolResponse:
		return r.ToolResponse
	case FieldSummary:
		return r.Summary
	case FieldMetadata:
		return r.Metadata
	}
	return ""
}

// SetText overwrites field f
func (r *Record) SetText(f FieldName, text string) {
	switch f {
	case FieldRequest:
		r.Request = text
	case FieldResponse:
		r.Response = text
	case FieldToolResponse:
		r.ToolResponse = text
	case FieldSummary:
		r.Summary = text
	case FieldMetadata:
		r.Metadata = text
	}
}

// Merge applies text to field f according to the field's policy and reports
// whether the stored text changed.
func (r *Record) Merge(f FieldName, text string) bool {
	if text == "" {
		return false
	}
	current := r.Text(f)
	switch f.Policy() {
	case MergeAppend:
		if current == "" {
			r.SetText(f, text)
		} else {
			r.SetText(f, current+appendSeparator+text)
		}
		return true
	default:
		if current != "" {
			return false
		}
		r.SetText(f, text)
		return true
	}
}

// Embedding returns the vectors owned by field f
func (r *Record) Embedding(f FieldName) FieldEmbedding {
	if r.Embeddings == nil {
		return FieldEmbedding{}
	}
	return r.Embeddings[f]
}

// SetEmbedding replaces the vectors owned by field f
func (r *Record) SetEmbedding(f FieldName, e FieldEmbedding) {
	if r.Embeddings == nil {
		r.Embeddings = make(map[FieldName]FieldEmbedding)
	}
	if e.Empty() {
		delete(r.Embeddings, f)
		return
	}
	r.Embeddings[f] = e
}

// MissingEmbeddings returns the populated embeddable fields that have no whole-field vector
func (r *Record) MissingEmbeddings() []FieldName {
	var missing []FieldName
	for _, f := range EmbeddableFields {
		if strings.TrimSpace(r.Text(f)) == "" {
			continue
		}
		if len(r.Embedding(f).Vector) == 0 {
			missing = append(missing, f)
		}
	}
	return missing
}

// PopulatedFields returns the embeddable fields that carry text
func (r *Record) PopulatedFields() []FieldName {
	var fields []FieldName
	for _, f := range EmbeddableFields {
		if strings.TrimSpace(r.Text(f)) != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// HasEmbeddings reports whether any field owns a vector
func (r *Record) HasEmbeddings() bool {
	for _, e := range r.Embeddings {
		if !e.Empty() {
			return true
		}
	}
	return false
}

// IsEmpty reports whether every text field is blank
func (r *Record) IsEmpty() bool {
	for _, f := range EmbeddableFields {
		if strings.TrimSpace(r.Text(f)) != "" {
			return false
		}
	}
	return strings.TrimSpace(r.Metadata) == ""
}

// PrimaryVector returns the request vector, falling back to the first
// available whole-field vector in field order.
func (r *Record) PrimaryVector() []float32 {
	for _, f := range EmbeddableFields {
		if v := r.Embedding(f).Vector; len(v) > 0 {
			return v
		}
	}
	return nil
}

// AllVectors returns every whole-field and chunk vector owned by the record
func (r *Record) AllVectors() [][]float32 {
	var vectors [][]float32
	for _, f := range EmbeddableFields {
		e := r.Embedding(f)
		if len(e.Vector) > 0 {
			vectors = append(vectors, e.Vector)
		}
		for _, c := range e.Chunks {
			if len(c) > 0 {
				vectors = append(vectors, c)
			}
		}
	}
	return vectors
}

// Clone returns a deep copy so cached values cannot be mutated by callers
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	dst := *r
	if r.Embeddings != nil {
		dst.Embeddings = make(map[FieldName]FieldEmbedding, len(r.Embeddings))
		for f, e := range r.Embeddings {
			var ce FieldEmbedding
			if e.Vector != nil {
				ce.Vector = append([]float32(nil), e.Vector...)
			}
			if e.Chunks != nil {
				ce.Chunks = make([][]float32, len(e.Chunks))
				for i, c := range e.Chunks {
					ce.Chunks[i] = append([]float32(nil), c...)
				}
			}
			dst.Embeddings[f] = ce
		}
	}
	return &dst
}

// Validate checks the invariants required before a record is queued
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyID)
	}
	return nil
}
