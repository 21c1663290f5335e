// Package engine is the embeddable entry point to recallkit: a local hybrid
// retrieval store for conversational records.
//
// An Engine owns one SQLite database, a secondary LSH kept by the store, a
// standalone in-memory vector index, a single-writer coordinator and a
// maintenance service. Engines share no state, so tests and tools can open as
// many isolated instances as they like.
//
//	eng, err := engine.Open(ctx, engine.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	id, _ := eng.AddRecord(ctx, "", "how do I rotate the signing key?", true)
//	_ = eng.UpdateField(ctx, id, "response", "run keyctl rotate and redeploy", true)
//
//	results, _ := eng.Search(ctx, "rotate signing key", 10, 0.2, 2)
//
// Every mutation is queued and applied in order by one worker. Reads run
// concurrently with it and never observe a half-applied record.
package engine
