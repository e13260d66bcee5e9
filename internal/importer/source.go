package importer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Row is one document read from the import source.
type Row struct {
	ID    string
	Title string
	Body  string
	Tags  string
	Hash  string
	MTime time.Time
}

// Source pages through documents in ID order. Batch returns at most limit
// rows whose ID sorts after afterID; fewer than limit means the source is
// exhausted.
type Source interface {
	Batch(ctx context.Context, afterID string, limit int) ([]Row, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresSource reads a table with columns id, title, body, tags, hash and
// mtime. Every column but id may be NULL.
type PostgresSource struct {
	q     Querier
	query string
	since time.Time
}

// NewPostgresSource reads table through q. Rows with mtime before since are
// skipped; a zero since reads everything.
func NewPostgresSource(q Querier, table string, since time.Time) *PostgresSource {
	return &PostgresSource{q: q, query: batchQuery(table), since: since}
}

func batchQuery(table string) string {
	return fmt.Sprintf(
		`SELECT id, title, body, tags, hash, mtime FROM %s `+
			`WHERE id > $1 AND (mtime IS NULL OR mtime >= $2) ORDER BY id LIMIT $3`,
		pq.QuoteIdentifier(table),
	)
}

func (s *PostgresSource) Batch(ctx context.Context, afterID string, limit int) ([]Row, error) {
	rows, err := s.q.QueryContext(ctx, s.query, afterID, s.since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying documents after %q: %w", afterID, err)
	}
	defer rows.Close()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var (
			r                       Row
			title, body, tags, hash sql.NullString
			mtime                   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &title, &body, &tags, &hash, &mtime); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		r.Title, r.Body, r.Tags, r.Hash = title.String, body.String, tags.String, hash.String
		if mtime.Valid {
			r.MTime = mtime.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return out, nil
}
