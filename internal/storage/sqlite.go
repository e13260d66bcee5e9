package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteFileName is the database inside the data directory.
const SQLiteFileName = "entries.db"

const sqliteBusyTimeout = 10000 // milliseconds

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	tags         TEXT NOT NULL,
	body         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	modified_at  INTEGER NOT NULL,
	seq          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_recent ON entries (modified_at DESC, id ASC);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO meta (key, value) VALUES ('seq', 0);`

// SQLiteStore implements Store on a WAL-mode SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	lock   *dirLock
	closed bool
	logger *slog.Logger
}

// OpenSQLite opens or creates entries.db in dir. With syncWrites the
// database runs synchronous=FULL so every committed Put survives power
// loss; otherwise NORMAL, which in WAL mode survives process crashes.
func OpenSQLite(dir string, syncWrites bool) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioError("creating data directory", err)
	}
	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, SQLiteFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.release()
		return nil, ioError(fmt.Sprintf("open sqlite %q", path), err)
	}
	// One connection keeps per-connection pragmas and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	synchronous := "NORMAL"
	if syncWrites {
		synchronous = "FULL"
	}
	pragmas := fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = %s;`, sqliteBusyTimeout, synchronous)
	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		db.Close()
		lock.release()
		return nil, ioError("apply pragmas", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		lock.release()
		return nil, ioError("create schema", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		lock:   lock,
		logger: slog.Default().With("component", "sqlitestore"),
	}
	s.logger.Info("sqlite store opened", "path", path, "synchronous", synchronous)
	return s, nil
}

// Put allocates the next sequence number and upserts the row in one
// transaction. An existing id is overwritten in place.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	rec.ModifiedAt = rec.ModifiedAt.UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}
		rec.Seq = seq
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (id, title, tags, body, content_hash, modified_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				tags = excluded.tags,
				body = excluded.body,
				content_hash = excluded.content_hash,
				modified_at = excluded.modified_at,
				seq = excluded.seq`,
			rec.ID, rec.Title, rec.Tags, rec.Body, rec.ContentHash,
			unixNanos(rec.ModifiedAt), int64(rec.Seq),
		)
		return err
	})
	if err != nil {
		return Record{}, ioError(fmt.Sprintf("put %q", rec.ID), err)
	}
	return rec, nil
}

func nextSeq(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx,
		"UPDATE meta SET value = value + 1 WHERE key = 'seq' RETURNING value",
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocating sequence: %w", err)
	}
	return uint64(seq), nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// unixNanos clamps t to the range an int64 nanosecond timestamp can hold.
func unixNanos(t time.Time) int64 {
	switch {
	case t.Before(minNanoTime):
		return math.MinInt64
	case t.After(maxNanoTime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

const selectColumns = "id, title, tags, body, content_hash, modified_at, seq"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec   Record
		mtime int64
		seq   int64
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Tags, &rec.Body, &rec.ContentHash, &mtime, &seq); err != nil {
		return Record{}, err
	}
	rec.ModifiedAt = time.Unix(0, mtime).UTC()
	rec.Seq = uint64(seq)
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM entries WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, ioError(fmt.Sprintf("get %q", id), err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM entries WHERE modified_at >= ? ORDER BY modified_at DESC, id ASC LIMIT ?",
		unixNanos(since), limit)
	if err != nil {
		return nil, ioError("list recent", err)
	}
	defer rows.Close()
	out, err := collect(rows)
	if err != nil {
		return nil, ioError("list recent", err)
	}
	return out, nil
}

func collect(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		if err != nil || deleted == 0 {
			return err
		}
		_, err = nextSeq(ctx, tx)
		return err
	})
	if err != nil {
		return ioError(fmt.Sprintf("delete %q", id), err)
	}
	if deleted == 0 {
		return notFound(id)
	}
	return nil
}

// Scan reads every row before calling fn so fn may use the store.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(Record) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM entries ORDER BY seq ASC")
	if err != nil {
		s.mu.RUnlock()
		return ioError("scan", err)
	}
	records, err := collect(rows)
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return ioError("scan", err)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Compact checkpoints the WAL into the main database and rebuilds it.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return ioError("wal checkpoint", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return ioError("vacuum", err)
	}
	s.logger.Info("sqlite store compacted", "path", s.path)
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, ioError("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return ioError("ping sqlite", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := errors.Join(s.db.Close(), s.lock.release()); err != nil {
		return ioError("closing sqlite", err)
	}
	return nil
}
