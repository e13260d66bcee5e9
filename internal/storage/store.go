// Package storage provides durable persistence for entry records.
//
// Store is the primary abstraction. LogStore (the default) keeps records in
// a single append-only, checksummed log file and serves reads from memory;
// SQLiteStore keeps them in a page-based SQLite database using pure-Go
// SQLite (modernc.org/sqlite). Both assign every write a store-wide,
// strictly increasing sequence number that the index uses to tell which
// version of a record its postings were built from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

var (
	// ErrNotFound is returned when no live record has the requested id.
	ErrNotFound = fmt.Errorf("entry: %w", apperrors.ErrDocumentNotFound)
	// ErrCorrupt is returned when persisted data fails validation.
	ErrCorrupt = fmt.Errorf("storage: %w", apperrors.ErrCorruptIndex)
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage: store is closed")
)

// Record is one stored entry.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Tags        string    `json:"tags"`
	Body        string    `json:"body"`
	ContentHash string    `json:"hash"`
	ModifiedAt  time.Time `json:"mtime"`
	Seq         uint64    `json:"seq"`
}

// SameContent reports whether r and o hold the same entry version,
// ignoring the store-assigned sequence number.
func (r Record) SameContent(o Record) bool {
	return r.ID == o.ID &&
		r.Title == o.Title &&
		r.Tags == o.Tags &&
		r.Body == o.Body &&
		r.ContentHash == o.ContentHash &&
		r.ModifiedAt.Equal(o.ModifiedAt)
}

// Store is the persistent record store.
type Store interface {
	// Put inserts or fully overwrites the record with rec.ID. The write is
	// durable before Put returns. The stored record, carrying its newly
	// assigned Seq, is returned.
	Put(ctx context.Context, rec Record) (Record, error)

	// Get returns the live record for id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// ListRecent returns records with ModifiedAt >= since ordered by
	// ModifiedAt descending, ties by ID ascending, at most limit of them.
	// A non-positive limit means no limit.
	ListRecent(ctx context.Context, since time.Time, limit int) ([]Record, error)

	// Delete removes the record for id or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Scan calls fn for every live record in Seq order. Scanning stops at
	// the first error fn returns.
	Scan(ctx context.Context, fn func(Record) error) error

	// Compact reclaims space held by overwritten and deleted records.
	Compact(ctx context.Context) error

	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open opens the backend selected by cfg.Engine inside cfg.DataDir,
// creating it if absent.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Engine {
	case "", config.EngineLog:
		return OpenLog(cfg.DataDir, cfg.SyncWrites)
	case config.EngineSQLite:
		return OpenSQLite(cfg.DataDir, cfg.SyncWrites)
	default:
		return nil, fmt.Errorf("unknown storage engine %q: %w", cfg.Engine, apperrors.ErrInvalidInput)
	}
}

func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrStorageIO, err)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}

// sortRecent orders records newest first, ties by id.
func sortRecent(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ModifiedAt.Equal(records[j].ModifiedAt) {
			return records[i].ModifiedAt.After(records[j].ModifiedAt)
		}
		return records[i].ID < records[j].ID
	})
}
