package storage

import (
	"context"
	"time"

	"github.com/dshills/recallkit/pkg/types"
)

// RecordStore holds the record operations available both on the store and
// inside a transaction
type RecordStore interface {
	// InsertRecord persists a new record. A duplicate record id is a no-op and
	// reports inserted=false.
	InsertRecord(ctx context.Context, rec *types.Record) (inserted bool, err error)
	// UpdateRecord overwrites every field of the row addressed by rec.ID
	UpdateRecord(ctx context.Context, rec *types.Record) error
	GetRecord(ctx context.Context, id string) (*types.Record, error)
	RecordExists(ctx context.Context, id string) (bool, error)
}

// Storage defines the interface for persisting and querying records
type Storage interface {
	RecordStore

	// Record queries
	GetRecordByRowID(ctx context.Context, rowID int64) (*types.Record, error)
	ListRecords(ctx context.Context, opts ListOptions) ([]*types.Record, error)
	CountRecords(ctx context.Context) (int, error)

	// Search operations
	SearchText(ctx context.Context, words []string, fields []types.FieldName, limit int) ([]*types.Record, error)
	FindByText(ctx context.Context, text string, limit int) ([]*types.Record, error)

	// Bulk mutations
	DeleteEmptyRecords(ctx context.Context) ([]*types.Record, error)
	ClearAll(ctx context.Context) error

	// Secondary LSH owned by the store
	LSH() *LSHIndex

	// Point-read cache control
	Invalidate(id string)
	Purge()

	GetStats(ctx context.Context) (*Stats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction. Cache entries touched inside the
// transaction are dropped on commit.
type Tx interface {
	Commit() error
	Rollback() error
	RecordStore
}

// ListOptions pages through records in row id order
type ListOptions struct {
	AfterRowID  int64 // Exclusive lower bound
	Limit       int   // Page size, <= 0 means DefaultPageSize
	MissingOnly bool  // Only rows with a populated field lacking its vector
}

// DefaultPageSize is used when ListOptions.Limit is unset
const DefaultPageSize = 100

// Stats summarises the persisted corpus
type Stats struct {
	TotalRecords          int
	RecordsWithEmbeddings int
	RecordsMissingVectors int
	SchemaVersion         string
	SizeMB                float64
	LSH                   LSHStats
	CacheEntries          int
	CollectedAt           time.Time
}
