package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/recallkit/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = types.ErrNotFound
)

// Options configures a SQLiteStorage
type Options struct {
	LSH         LSHConfig     // Secondary LSH, Dimension is required
	CacheSize   int           // Point-read cache capacity
	CacheTTL    time.Duration // Point-read cache entry lifetime
	BusyTimeout time.Duration // SQLite busy_timeout before a busy error surfaces
}

// DefaultOptions returns options for vectors of the given dimension
func DefaultOptions(dimension int) Options {
	return Options{
		LSH: LSHConfig{
			Dimension:   dimension,
			Tables:      DefaultLSHTables,
			Hyperplanes: DefaultLSHHyperplanes,
			Seed:        DefaultLSHSeed,
		},
		CacheSize:   DefaultCacheSize,
		CacheTTL:    DefaultCacheTTL,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db    *sql.DB
	cache *recordCache
	lsh   *LSHIndex
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string, busyTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if busyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens (or creates) the database at dbPath and applies
// pending migrations. Use ":memory:" for a throwaway store.
func NewSQLiteStorage(dbPath string, opts Options) (*SQLiteStorage, error) {
	lsh, err := NewLSHIndex(opts.LSH)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(dbPath, opts.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{
		db:    db,
		cache: newRecordCache(opts.CacheSize, opts.CacheTTL),
		lsh:   lsh,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	s.cache.purge()
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// LSH returns the secondary LSH over this store's rows
func (s *SQLiteStorage) LSH() *LSHIndex {
	return s.lsh
}

// Invalidate drops the cached copy of a record
func (s *SQLiteStorage) Invalidate(id string) {
	s.cache.invalidate(id)
}

// Purge drops every cached record
func (s *SQLiteStorage) Purge() {
	s.cache.purge()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
	touched []string
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify(err)
	}
	for _, id := range t.touched {
		t.storage.cache.invalidate(id)
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Column list shared by every record query, in scanRecord order
var recordColumnNames = []string{
	"id", "record_id", "request", "response", "tool_response", "summary", "metadata",
	"rating", "status",
	"request_vector", "request_chunks",
	"response_vector", "response_chunks",
	"tool_response_vector", "tool_response_chunks",
	"summary_vector", "summary_chunks",
	"created_at", "updated_at",
}

func recordColumns(alias string) string {
	if alias == "" {
		return strings.Join(recordColumnNames, ", ")
	}
	cols := make([]string, len(recordColumnNames))
	for i, c := range recordColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// blank matches a column holding only whitespace
func blank(col string) string {
	return fmt.Sprintf("trim(%s, ' ' || char(9) || char(10) || char(13)) = ''", col)
}

// missingVectorCondition matches rows where a populated field lacks its vector
var missingVectorCondition = func() string {
	parts := make([]string, 0, len(types.EmbeddableFields))
	for _, f := range types.EmbeddableFields {
		parts = append(parts, fmt.Sprintf("(NOT %s AND %s_vector IS NULL)", blank(string(f)), f))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}()

// emptyRecordCondition matches rows with no text at all
var emptyRecordCondition = func() string {
	parts := make([]string, 0, len(types.EmbeddableFields)+1)
	for _, f := range types.EmbeddableFields {
		parts = append(parts, blank(string(f)))
	}
	parts = append(parts, blank(string(types.FieldMetadata)))
	return "(" + strings.Join(parts, " AND ") + ")"
}()

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var rec types.Record
	blobs := make([][]byte, 2*len(types.EmbeddableFields))
	dest := []interface{}{
		&rec.RowID, &rec.ID, &rec.Request, &rec.Response, &rec.ToolResponse, &rec.Summary, &rec.Metadata,
		&rec.Rating, &rec.Status,
	}
	for i := range blobs {
		dest = append(dest, &blobs[i])
	}
	dest = append(dest, &rec.CreatedAt, &rec.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	for i, f := range types.EmbeddableFields {
		chunks, err := deserializeChunks(blobs[2*i+1])
		if err != nil {
			return nil, fmt.Errorf("record %s field %s: %w", rec.ID, f, err)
		}
		rec.SetEmbedding(f, types.FieldEmbedding{
			Vector: deserializeVector(blobs[2*i]),
			Chunks: chunks,
		})
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*types.Record, error) {
	defer func() { _ = rows.Close() }()

	records := make([]*types.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// vectorArgs returns the blob arguments for every embeddable field in column order
func vectorArgs(rec *types.Record) ([]interface{}, error) {
	args := make([]interface{}, 0, 2*len(types.EmbeddableFields))
	for _, f := range types.EmbeddableFields {
		e := rec.Embedding(f)
		chunks, err := serializeChunks(e.Chunks)
		if err != nil {
			return nil, err
		}
		args = append(args, nullBlob(serializeVector(e.Vector)), nullBlob(chunks))
	}
	return args, nil
}

func nullBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Record operations

// insertRecordWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertRecordWithQuerier(ctx context.Context, q querier, rec *types.Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	vectors, err := vectorArgs(rec)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO records (` + strings.Join(recordColumnNames[1:], ", ") + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO NOTHING
	`
	args := []interface{}{
		rec.ID, rec.Request, rec.Response, rec.ToolResponse, rec.Summary, rec.Metadata,
		rec.Rating, rec.Status,
	}
	args = append(args, vectors...)
	args = append(args, created, now)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify(fmt.Errorf("failed to insert record %s: %w", rec.ID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, err
	}
	rec.RowID = id
	rec.CreatedAt = created
	rec.UpdatedAt = now
	return true, nil
}

func (s *SQLiteStorage) InsertRecord(ctx context.Context, rec *types.Record) (bool, error) {
	inserted, err := s.insertRecordWithQuerier(ctx, s.querier(), rec)
	if inserted {
		s.cache.invalidate(rec.ID)
	}
	return inserted, err
}

// updateRecordWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateRecordWithQuerier(ctx context.Context, q querier, rec *types.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	vectors, err := vectorArgs(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE records
		SET request = ?, response = ?, tool_response = ?, summary = ?, metadata = ?,
		    rating = ?, status = ?,
		    request_vector = ?, request_chunks = ?,
		    response_vector = ?, response_chunks = ?,
		    tool_response_vector = ?, tool_response_chunks = ?,
		    summary_vector = ?, summary_chunks = ?,
		    updated_at = ?
		WHERE record_id = ?
	`
	now := time.Now().UTC()
	args := []interface{}{
		rec.Request, rec.Response, rec.ToolResponse, rec.Summary, rec.Metadata,
		rec.Rating, rec.Status,
	}
	args = append(args, vectors...)
	args = append(args, now, rec.ID)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(fmt.Errorf("failed to update record %s: %w", rec.ID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("record %s: %w", rec.ID, ErrNotFound)
	}
	rec.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateRecord(ctx context.Context, rec *types.Record) error {
	err := s.updateRecordWithQuerier(ctx, s.querier(), rec)
	s.cache.invalidate(rec.ID)
	return err
}

// getRecordWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getRecordWithQuerier(ctx context.Context, q querier, id string) (*types.Record, error) {
	query := `SELECT ` + recordColumns("") + ` FROM records WHERE record_id = ?`
	rec, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// GetRecord returns the record with the given id, served from the point-read
// cache when possible
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*types.Record, error) {
	if rec, ok := s.cache.get(id); ok {
		return rec, nil
	}
	t := s.cache.ticket(id)
	rec, err := s.getRecordWithQuerier(ctx, s.querier(), id)
	if err != nil {
		s.cache.release()
		return nil, err
	}
	s.cache.put(t, rec)
	return rec, nil
}

func (s *SQLiteStorage) GetRecordByRowID(ctx context.Context, rowID int64) (*types.Record, error) {
	query := `SELECT ` + recordColumns("") + ` FROM records WHERE id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, rowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (s *SQLiteStorage) recordExistsWithQuerier(ctx context.Context, q querier, id string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM records WHERE record_id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

func (s *SQLiteStorage) RecordExists(ctx context.Context, id string) (bool, error) {
	return s.recordExistsWithQuerier(ctx, s.querier(), id)
}

// ListRecords returns one page of records in row id order
func (s *SQLiteStorage) ListRecords(ctx context.Context, opts ListOptions) ([]*types.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := `SELECT ` + recordColumns("") + ` FROM records WHERE id > ?`
	if opts.MissingOnly {
		query += " AND " + missingVectorCondition
	}
	query += " ORDER BY id LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, opts.AfterRowID, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list records: %w", err))
	}
	return scanRecords(rows)
}

func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// Search operations

// SearchText returns records whose fields contain any of words, best BM25
// first. No fields means every text column.
func (s *SQLiteStorage) SearchText(ctx context.Context, words []string, fields []types.FieldName, limit int) ([]*types.Record, error) {
	match := restrictFTSColumns(buildFTSQuery(words), fields)
	if match == "" || limit <= 0 {
		return []*types.Record{}, nil
	}

	query := `
		SELECT ` + recordColumns("r") + `
		FROM records_fts
		INNER JOIN records r ON r.id = records_fts.rowid
		WHERE records_fts MATCH ?
		ORDER BY bm25(records_fts)
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to execute FTS search: %w", err))
	}
	return scanRecords(rows)
}

// FindByText resolves a text fragment to the records holding it: exact field
// matches first, then records containing it as a substring
func (s *SQLiteStorage) FindByText(ctx context.Context, text string, limit int) ([]*types.Record, error) {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return []*types.Record{}, nil
	}

	textCols := []string{"request", "response", "tool_response", "summary"}

	exact := make([]string, len(textCols))
	contains := make([]string, len(textCols))
	args := make([]interface{}, len(textCols))
	for i, c := range textCols {
		exact[i] = c + " = ?"
		contains[i] = "instr(" + c + ", ?) > 0"
		args[i] = text
	}

	for _, cond := range []string{strings.Join(exact, " OR "), strings.Join(contains, " OR ")} {
		query := `SELECT ` + recordColumns("") + ` FROM records WHERE ` + cond + ` ORDER BY id LIMIT ?`
		rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to find text: %w", err))
		}
		records, err := scanRecords(rows)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}
	}
	return []*types.Record{}, nil
}

// Bulk mutations

// DeleteEmptyRecords removes records with no text at all and drops their
// secondary LSH memberships. The deleted records are returned.
func (s *SQLiteStorage) DeleteEmptyRecords(ctx context.Context) ([]*types.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns("")+` FROM records WHERE `+emptyRecordCondition)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to find empty records: %w", err))
	}
	empty, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(empty) == 0 {
		return empty, nil
	}

	for _, rec := range empty {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", rec.RowID); err != nil {
			return nil, classify(fmt.Errorf("failed to delete record %s: %w", rec.ID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}

	for _, rec := range empty {
		s.cache.invalidate(rec.ID)
		s.lsh.Remove(rec.RowID)
	}
	return empty, nil
}

// ClearAll deletes every record, the cache and the secondary LSH
func (s *SQLiteStorage) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return classify(fmt.Errorf("failed to clear records: %w", err))
	}
	s.cache.purge()
	s.lsh.Clear()
	return nil
}

// Status operations

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		LSH:          s.lsh.Stats(),
		CacheEntries: s.cache.len(),
		CollectedAt:  time.Now(),
	}

	counts := []struct {
		dest  *int
		query string
	}{
		{&stats.TotalRecords, "SELECT COUNT(*) FROM records"},
		{&stats.RecordsWithEmbeddings, `SELECT COUNT(*) FROM records WHERE
			request_vector IS NOT NULL OR response_vector IS NOT NULL OR
			tool_response_vector IS NOT NULL OR summary_vector IS NOT NULL`},
		{&stats.RecordsMissingVectors, "SELECT COUNT(*) FROM records WHERE " + missingVectorCondition},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, classify(err)
		}
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return stats, nil
}

// Transaction implementations

func (t *sqliteTx) InsertRecord(ctx context.Context, rec *types.Record) (bool, error) {
	inserted, err := t.storage.insertRecordWithQuerier(ctx, t.querier(), rec)
	if inserted {
		t.touched = append(t.touched, rec.ID)
	}
	return inserted, err
}

func (t *sqliteTx) UpdateRecord(ctx context.Context, rec *types.Record) error {
	t.touched = append(t.touched, rec.ID)
	return t.storage.updateRecordWithQuerier(ctx, t.querier(), rec)
}

// GetRecord reads inside the transaction, bypassing the cache
func (t *sqliteTx) GetRecord(ctx context.Context, id string) (*types.Record, error) {
	return t.storage.getRecordWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) RecordExists(ctx context.Context, id string) (bool, error) {
	return t.storage.recordExistsWithQuerier(ctx, t.querier(), id)
}
