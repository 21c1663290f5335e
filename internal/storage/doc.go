// Package storage provides SQLite-based persistence for conversational records.
//
// The storage layer manages:
//   - Records and their text fields
//   - Whole-field vectors and chunk vector lists per embeddable field
//   - The FTS5 shadow index over record text
//   - A secondary multi-table LSH over row ids (in memory)
//   - A TTL-bounded point-read cache
//
// # Database Schema
//
// Tables:
//   - schema_version: Applied migrations (semantic versions)
//   - records: One row per record; *_vector columns hold little-endian
//     float32 blobs, *_chunks columns hold MessagePack encoded vector lists
//   - records_fts: FTS5 external-content index over request, response,
//     tool_response and summary, kept in sync by triggers
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("recall.db", storage.DefaultOptions(384))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	inserted, err := db.InsertRecord(ctx, &types.Record{ID: "conv-1", Request: "..."})
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	exists, _ := tx.RecordExists(ctx, "conv-1")
//	...
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// Records touched inside a transaction leave the point-read cache on commit.
//
// # Contention
//
// SQLite busy and locked failures are wrapped with types.ErrStoreBusy; IsBusy
// reports them so callers can retry. Every other failure is final.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_vec tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5"
package storage
