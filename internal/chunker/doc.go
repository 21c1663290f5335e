// Package chunker splits long record text into overlapping token windows for
// embedding.
//
// A field whose text fits in one window gets no chunks; its whole-field vector
// already covers it. Longer text is cut into windows of Size tokens, each
// starting Size-Overlap tokens after the previous one, so that a phrase spanning
// a window edge still lands whole in at least one window.
//
// # Basic Usage
//
//	c := chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
//	for _, window := range c.Split(text) {
//	    vec, err := emb.GenerateEmbedding(ctx, window)
//	    ...
//	}
//
// Windows are cut from the original text at token boundaries, so every window
// is a substring of its source and the split is deterministic.
package chunker
