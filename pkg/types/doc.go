// Package types provides shared type definitions for recallkit.
//
// This package defines the domain types used across the storage, search, write
// and maintenance components: records and their field embeddings, scored search
// results, and the error taxonomy.
//
// # Records
//
// A Record is the addressable unit of stored data. It carries a fixed set of
// named text fields plus optional vectors for the embeddable ones:
//
//	rec := &types.Record{
//	    ID:      "conv-42",
//	    Request: "how do I rotate the signing keys?",
//	}
//	rec.SetText(types.FieldResponse, "Use the key rotation endpoint ...")
//
// Later writes to the same record are partial merges. Response-type fields
// append, summary and metadata are written only while empty, and embeddings are
// overwritten whenever they are recomputed:
//
//	merged := rec.Merge(types.FieldResponse, "more output")
//
// # Errors
//
// Validation failures wrap ErrValidation and are returned before anything is
// queued. Store contention is reported as ErrStoreBusy, embedding failures as
// ErrProviderUnavailable:
//
//	if errors.Is(err, types.ErrValidation) {
//	    // reject the request
//	}
package types
