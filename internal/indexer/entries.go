package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/tracing"
)

// MaxIDLength is the longest accepted entry ID, in bytes.
const MaxIDLength = 512

// Document is an entry as submitted for indexing. Empty text fields are
// left out of the indexed text. A zero ModifiedAt defaults to the current
// time and an empty Hash to ContentHash of the body.
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Tags       string    `json:"tags"`
	Hash       string    `json:"hash"`
	ModifiedAt time.Time `json:"mtime"`
}

// Entry is the metadata returned for a stored document.
type Entry struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Tags  string    `json:"tags"`
	Hash  string    `json:"hash"`
	MTime time.Time `json:"mtime"`
}

func entryFrom(rec storage.Record) Entry {
	return Entry{
		ID:    rec.ID,
		Title: rec.Title,
		Tags:  rec.Tags,
		Hash:  rec.ContentHash,
		MTime: rec.ModifiedAt,
	}
}

// ContentHash is the hex SHA-256 of body.
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// ValidateID rejects IDs the store cannot key on.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: entry id is required", apperrors.ErrInvalidInput)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: entry id longer than %d bytes", apperrors.ErrInvalidInput, MaxIDLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: entry id is not valid UTF-8", apperrors.ErrInvalidInput)
	}
	return nil
}

func indexFields(rec storage.Record) []index.Field {
	return []index.Field{
		{Name: "title", Text: rec.Title},
		{Name: "body", Text: rec.Body},
		{Name: "tags", Text: rec.Tags},
	}
}

// AddEntry inserts doc or replaces every field of the existing entry with
// the same ID. The record is durable before its postings change, and the
// old postings are removed before the new ones become visible. Submitting
// an entry identical to the stored, already indexed one changes nothing.
func (e *Engine) AddEntry(ctx context.Context, doc Document) error {
	if err := ValidateID(doc.ID); err != nil {
		e.countUpsert("failed")
		return err
	}
	if doc.Hash == "" {
		doc.Hash = ContentHash(doc.Body)
	}
	if doc.ModifiedAt.IsZero() {
		doc.ModifiedAt = e.now()
	}
	rec := storage.Record{
		ID:          doc.ID,
		Title:       doc.Title,
		Tags:        doc.Tags,
		Body:        doc.Body,
		ContentHash: doc.Hash,
		ModifiedAt:  doc.ModifiedAt.UTC(),
	}
	log := logger.FromContext(ctx).With("component", "engine", "doc_id", doc.ID)

	status := "written"
	err := e.locks.with(doc.ID, func() error {
		current, err := e.store.Get(ctx, doc.ID)
		switch {
		case err == nil:
			if seq, ok := e.idx.DocSeq(doc.ID); ok && seq == current.Seq && current.SameContent(rec) {
				status = "unchanged"
				return nil
			}
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("reading entry %q: %w", doc.ID, err)
		}

		stored, err := e.store.Put(ctx, rec)
		if err != nil {
			return fmt.Errorf("storing entry %q: %w", doc.ID, err)
		}
		length := e.idx.Replace(stored.ID, stored.Seq, indexFields(stored))
		log.Debug("entry indexed", "seq", stored.Seq, "length", length)
		return nil
	})
	if err != nil {
		e.countUpsert("failed")
		log.Error("upsert failed", "error", err)
		return err
	}
	e.countUpsert(status)
	if status == "written" {
		e.afterWrite(ctx, doc.ID)
	}
	return nil
}

// DeleteEntry removes the entry and its postings.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	err := e.locks.with(id, func() error {
		if err := e.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("deleting entry %q: %w", id, err)
		}
		e.idx.Delete(id)
		return nil
	})
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.DeletesTotal.Inc()
	}
	logger.FromContext(ctx).Info("entry deleted", "component", "engine", "doc_id", id)
	e.afterWrite(ctx, id)
	return nil
}

// GetEntry returns the metadata of id, or an error matching
// storage.ErrNotFound.
func (e *Engine) GetEntry(ctx context.Context, id string) (Entry, error) {
	if err := ValidateID(id); err != nil {
		return Entry{}, err
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	return entryFrom(rec), nil
}

// EntryIDs returns the IDs of stored entries that start with prefix, in
// store order.
func (e *Engine) EntryIDs(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := e.store.Scan(ctx, func(rec storage.Record) error {
		if strings.HasPrefix(rec.ID, prefix) {
			ids = append(ids, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return ids, nil
}

// GetLatest returns entries modified within window, newest first, at most
// limit of them. A non-positive limit uses the configured default; a
// non-positive window means the configured number of calendar months.
func (e *Engine) GetLatest(ctx context.Context, limit int, window time.Duration) ([]Entry, error) {
	limit = e.clampLimit(limit, e.cfg.Search.LatestLimit)
	now := e.now()
	since := now.AddDate(0, -e.cfg.Search.LatestMonths, 0)
	if window > 0 {
		since = now.Add(-window)
	}
	records, err := e.store.ListRecent(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent entries: %w", err)
	}
	entries := make([]Entry, len(records))
	for i, rec := range records {
		entries[i] = entryFrom(rec)
	}
	return entries, nil
}

// Search runs query against the index and returns at most limit ranked
// results. A non-positive limit uses the configured default. Malformed
// queries return an error matching apperrors.ErrInvalidQuery and no
// results.
func (e *Engine) Search(ctx context.Context, query string, limit int) (*executor.SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log(e.logger)
	}()

	plan, err := parser.Parse(query, e.tok)
	if err != nil {
		e.countSearch("invalid")
		return nil, err
	}
	span.SetAttr("type", plan.Type.String())

	res, err := e.exec.Execute(ctx, plan, e.clampLimit(limit, e.cfg.Search.DefaultLimit))
	if err != nil {
		e.countSearch("error")
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("executing query: %w: %w", apperrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("executing query: %w", err)
	}
	if len(res.Results) == 0 {
		e.countSearch("zero_result")
	} else {
		e.countSearch("hit")
	}
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(len(res.Results)))
	}
	return res, nil
}

func (e *Engine) clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if ceiling := e.cfg.Search.MaxResults; ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	return limit
}

func (e *Engine) afterWrite(ctx context.Context, docID string) {
	e.updateGauges()
	for _, fn := range e.onWrite {
		fn(ctx, docID)
	}
	pending := e.dirty.Add(1)
	if every := e.cfg.Indexer.CheckpointEvery; every <= 0 || pending < int64(every) {
		return
	}
	if !e.ckptMu.TryLock() {
		return
	}
	defer e.ckptMu.Unlock()
	if err := e.checkpointLocked(); err != nil {
		e.logger.Error("checkpoint after writes failed", "error", err)
	}
}

func (e *Engine) countUpsert(status string) {
	if e.metrics != nil {
		e.metrics.UpsertsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countSearch(resultType string) {
	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}
