// Package importer copies documents from an external source, normally a
// PostgreSQL table, into the index engine in ID-ordered batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/resilience"
)

const defaultBatchSize = 500

// Writer is the part of *indexer.Engine the importer uses.
type Writer interface {
	AddEntry(ctx context.Context, doc indexer.Document) error
}

// Stats summarises an import run.
type Stats struct {
	Read     int           `json:"read"`
	Imported int           `json:"imported"`
	Rejected int           `json:"rejected"`
	Batches  int           `json:"batches"`
	LastID   string        `json:"last_id"`
	Duration time.Duration `json:"duration"`
}

type Importer struct {
	source    Source
	writer    Writer
	batchSize int
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

func New(source Source, writer Writer, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Importer{
		source:    source,
		writer:    writer,
		batchSize: batchSize,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Retryable:    apperrors.IsRetryable,
		},
		logger: slog.Default().With("component", "importer"),
	}
}

// Run imports every document after afterID. Documents the engine rejects as
// invalid are counted and skipped; any other failure that persists through
// retries stops the run, and Stats.LastID tells where to resume.
func (im *Importer) Run(ctx context.Context, afterID string) (Stats, error) {
	start := time.Now()
	stats := Stats{LastID: afterID}
	finish := func(err error) (Stats, error) {
		stats.Duration = time.Since(start)
		return stats, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		var rows []Row
		err := resilience.Retry(ctx, "import-batch", im.retry, func() error {
			var err error
			rows, err = im.source.Batch(ctx, stats.LastID, im.batchSize)
			return err
		})
		if err != nil {
			return finish(fmt.Errorf("reading batch after %q: %w", stats.LastID, err))
		}
		stats.Batches++
		stats.Read += len(rows)

		for _, row := range rows {
			if err := im.importRow(ctx, row); err != nil {
				if !errors.Is(err, apperrors.ErrInvalidInput) {
					return finish(err)
				}
				stats.Rejected++
				im.logger.Warn("document rejected", "doc_id", row.ID, "error", err)
			} else {
				stats.Imported++
			}
			stats.LastID = row.ID
		}
		im.logger.Info("batch imported",
			"batch", stats.Batches,
			"rows", len(rows),
			"imported", stats.Imported,
			"last_id", stats.LastID,
		)
		if len(rows) < im.batchSize {
			return finish(nil)
		}
	}
}

func (im *Importer) importRow(ctx context.Context, row Row) error {
	doc := indexer.Document{
		ID:         row.ID,
		Title:      row.Title,
		Body:       row.Body,
		Tags:       row.Tags,
		Hash:       row.Hash,
		ModifiedAt: row.MTime,
	}
	err := resilience.Retry(ctx, "import-row", im.retry, func() error {
		return im.writer.AddEntry(ctx, doc)
	})
	if err != nil {
		return fmt.Errorf("importing %q: %w", row.ID, err)
	}
	return nil
}
