package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/recallkit/pkg/types"
)

// Kind identifies the mutation carried by a Write
type Kind int

const (
	KindInsert Kind = iota
	KindUpdateField
	KindReembed
	KindPruneEmpty
	KindClear
	KindExclusive
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdateField:
		return "update_field"
	case KindReembed:
		return "reembed"
	case KindPruneEmpty:
		return "prune_empty"
	case KindClear:
		return "clear"
	case KindExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Write is a single queued mutation
type Write struct {
	Kind Kind

	// Insert: the new record. Text fields are taken as given.
	Record *types.Record

	// UpdateField: the target record, field and text merged per the field's policy
	RecordID string
	Field    types.FieldName
	Text     string

	// Insert and UpdateField: compute vectors for the affected fields
	Embed bool

	// Reembed: precomputed vectors that overwrite the record's current ones.
	// Sources optionally holds the text each field's vectors were computed
	// from; a field whose text no longer matches is left untouched.
	Embeddings map[types.FieldName]types.FieldEmbedding
	Sources    map[types.FieldName]string

	// Exclusive: runs in the worker's turn with no other write in flight
	Fn func(ctx context.Context) error
}

// Result reports what an applied write did
type Result struct {
	Applied bool          // False for duplicate inserts and merges that changed nothing
	Record  *types.Record // Record state after the write, nil for bulk kinds
	Missing []types.FieldName
	Pruned  int // Records deleted by PruneEmpty
	Stale   int // Secondary LSH memberships the new vectors no longer reproduced
}

// recordID returns the key the write addresses, if any
func (w *Write) recordID() string {
	switch w.Kind {
	case KindInsert:
		if w.Record != nil {
			return w.Record.ID
		}
	case KindUpdateField, KindReembed:
		return w.RecordID
	}
	return ""
}

// Validate rejects writes that can never apply
func (w *Write) Validate() error {
	switch w.Kind {
	case KindInsert:
		if w.Record == nil {
			return fmt.Errorf("%w: insert without record", types.ErrValidation)
		}
		return w.Record.Validate()
	case KindUpdateField:
		if strings.TrimSpace(w.RecordID) == "" {
			return fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyID)
		}
		if w.Field == types.FieldRequest || w.Field == "" {
			return fmt.Errorf("%w: %w: %q", types.ErrValidation, types.ErrUnknownField, w.Field)
		}
	case KindReembed:
		if strings.TrimSpace(w.RecordID) == "" {
			return fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyID)
		}
	case KindExclusive:
		if w.Fn == nil {
			return fmt.Errorf("%w: exclusive write without function", types.ErrValidation)
		}
	case KindPruneEmpty, KindClear:
	default:
		return fmt.Errorf("%w: unknown write kind %d", types.ErrValidation, int(w.Kind))
	}
	return nil
}
