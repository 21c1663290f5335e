package writer

import (
	"github.com/dshills/recallkit/internal/chunker"
	"github.com/dshills/recallkit/internal/vectorindex"
	"github.com/dshills/recallkit/pkg/types"
)

// IndexFragments replaces every standalone-index fragment of rec with its
// current whole-field and chunk vectors. Chunk fragments carry their window
// text when the stored chunk count still matches the text; otherwise they
// carry no text and resolve through the record id.
func IndexFragments(idx *vectorindex.Index, ch *chunker.Chunker, rec *types.Record) error {
	if idx == nil {
		return nil
	}
	idx.RemoveRecord(rec.ID)

	for _, f := range types.EmbeddableFields {
		e := rec.Embedding(f)
		if e.Empty() {
			continue
		}
		text := rec.Text(f)
		field := string(f)

		if len(e.Vector) > 0 {
			id := vectorindex.FragmentID(rec.ID, field, -1)
			if err := idx.Upsert(id, e.Vector, vectorindex.FragmentTags(rec.ID, field, text)); err != nil {
				return err
			}
		}

		windows := ch.Split(text)
		for i, v := range e.Chunks {
			if len(v) == 0 {
				continue
			}
			window := ""
			if len(windows) == len(e.Chunks) {
				window = windows[i]
			}
			id := vectorindex.FragmentID(rec.ID, field, i)
			if err := idx.Upsert(id, v, vectorindex.FragmentTags(rec.ID, field, window)); err != nil {
				return err
			}
		}
	}
	return nil
}
