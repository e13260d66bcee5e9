// Package indexer coordinates the record store and the inverted index.
//
// Engine is the single entry point for writes and reads. A write is made
// durable in the store first and only then reflected in the index, under a
// per-document lock. Every stored record version carries a sequence number
// and the index remembers which version each document's postings were
// built from, so a search never pairs metadata with postings of another
// version, and recovery after a crash reindexes exactly the documents
// whose versions disagree.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/metrics"
)

// CheckpointFileName is the index checkpoint kept next to the store files.
const CheckpointFileName = "index.ckpt"

// ErrClosed is returned by maintenance operations after Close.
var ErrClosed = errors.New("indexer: engine is closed")

type Engine struct {
	cfg     *config.Config
	store   storage.Store
	idx     *index.MemoryIndex
	tok     tokenizer.Tokenizer
	exec    *executor.Executor
	ckpt    *segment.Writer
	metrics *metrics.Metrics
	now     func() time.Time
	onWrite []func(ctx context.Context, docID string)
	logger  *slog.Logger

	locks     docLocks
	ckptMu    sync.Mutex
	dirty     atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type Option func(*Engine)

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTokenizer overrides the tokenizer selected by configuration.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(e *Engine) { e.tok = tok }
}

// WithStore uses s instead of opening the configured backend. The engine
// takes ownership and closes s on Close.
func WithStore(s storage.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock replaces time.Now for default modification times and the
// get_latest window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWriteHook registers fn to run after every committed upsert or
// delete, outside the document lock.
func WithWriteHook(fn func(ctx context.Context, docID string)) Option {
	return func(e *Engine) { e.onWrite = append(e.onWrite, fn) }
}

// Open creates or opens the data directory named by cfg, loads the index
// checkpoint and brings the index up to date with the store. It is safe to
// call on every process start. Any failure to open storage is returned
// immediately.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tok == nil {
		e.tok = tokenizer.New(cfg.Indexer.Tokenizer)
	}
	if e.store == nil {
		st, err := storage.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		e.store = st
	}
	e.idx = index.NewMemoryIndex(e.tok)
	e.ckpt = segment.NewWriter(filepath.Join(cfg.Storage.DataDir, CheckpointFileName))
	e.exec = executor.New(
		source{e},
		e.tok,
		ranker.ParamsFrom(cfg.Indexer.Ranking),
		ranker.ExcerptOptionsFrom(cfg.Indexer.Excerpt),
	)

	if err := e.recover(ctx); err != nil {
		if cerr := e.store.Close(); cerr != nil {
			e.logger.Error("closing store after failed open", "error", cerr)
		}
		return nil, err
	}
	return e, nil
}

// source exposes the engine to the search executor.
type source struct{ e *Engine }

func (s source) Lookup(terms []string) index.Snapshot {
	return s.e.idx.Lookup(terms)
}

func (s source) Fetch(ctx context.Context, id string) (storage.Record, error) {
	return s.e.store.Get(ctx, id)
}

// Stats describes the engine's current contents.
type Stats struct {
	Entries           int     `json:"entries"`
	IndexedDocs       int     `json:"indexed_docs"`
	Terms             int     `json:"terms"`
	AvgDocLength      float64 `json:"avg_doc_length"`
	StorageEngine     string  `json:"storage_engine"`
	DataDir           string  `json:"data_dir"`
	PendingCheckpoint int64   `json:"pending_checkpoint"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	n, err := e.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting entries: %w", err)
	}
	engine := e.cfg.Storage.Engine
	if engine == "" {
		engine = config.EngineLog
	}
	return Stats{
		Entries:           n,
		IndexedDocs:       e.idx.DocCount(),
		Terms:             e.idx.TermCount(),
		AvgDocLength:      e.idx.AvgDocLength(),
		StorageEngine:     engine,
		DataDir:           e.cfg.Storage.DataDir,
		PendingCheckpoint: e.dirty.Load(),
	}, nil
}

// Ping reports whether the store is usable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Close writes a final checkpoint and closes the store. Later calls return
// the first call's result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.ckptMu.Lock()
		defer e.ckptMu.Unlock()
		if err := e.checkpointLocked(); err != nil {
			e.logger.Error("final checkpoint failed", "error", err)
		}
		e.closed.Store(true)
		e.closeErr = e.store.Close()
		e.logger.Info("engine closed", "data_dir", e.cfg.Storage.DataDir)
	})
	return e.closeErr
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexedDocuments.Set(float64(e.idx.DocCount()))
	e.metrics.IndexedTerms.Set(float64(e.idx.TermCount()))
}
