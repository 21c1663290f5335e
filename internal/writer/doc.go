// Package writer serializes every mutation of the record store through a
// single worker goroutine.
//
// Writes are admitted into a bounded FIFO queue; producers block while it is
// full. The worker applies one write at a time: it reads the current row,
// merges the new text by field policy, embeds the affected fields under an
// overall timeout, persists with backoff on busy errors, replaces the row's
// secondary LSH memberships and vector index fragments, and drops the cached
// copy of the record. The caller is released only when its write finished.
//
//	c := writer.New(store, emb, index, writer.DefaultConfig(), logger)
//	defer c.Close()
//
//	inserted, err := c.Insert(ctx, &types.Record{ID: "conv-1", Request: "..."}, true)
//	err = c.UpdateField(ctx, "conv-1", types.FieldResponse, "...", true)
//
// Exclusive runs a function in the worker's turn. The function must not
// submit writes itself, since the worker is busy running it.
package writer
