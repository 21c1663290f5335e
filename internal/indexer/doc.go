// Package indexer maintains vectors and indexes across the whole corpus.
//
// Backfill pages through every row and regenerates vectors for the rows that
// need them, pacing provider calls with a token bucket. New vectors are
// submitted to the write coordinator, which persists them and replaces the
// row's index memberships; memberships that the new vectors no longer
// reproduce are logged as an index consistency warning.
//
//	summary, err := idx.Backfill(ctx, indexer.Options{
//	    Mode:      indexer.ModeMissing,
//	    BatchSize: 100,
//	    OnProgress: func(p indexer.Progress) {
//	        log.Printf("%d/%d %s", p.Processed, p.Total, p.CurrentID)
//	    },
//	})
//
// RebuildIndex clears the store's secondary LSH and the standalone vector
// index and replays every stored vector. It runs inside an exclusive writer
// turn, so no write interleaves with the replay.
//
// Only one maintenance run may be active at a time; a second one fails fast
// with ErrMaintenanceInProgress.
package indexer
