package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
)

// RecoveryStats reports what bringing an index up to date with the store
// changed.
type RecoveryStats struct {
	Entries   int `json:"entries"`
	Reindexed int `json:"reindexed"`
	Dropped   int `json:"dropped"`
}

// recover loads the checkpoint, if any, then reconciles it with the store.
// A missing or unreadable checkpoint only means more documents are
// reindexed.
func (e *Engine) recover(ctx context.Context) error {
	start := time.Now()
	docs, header, err := segment.Read(e.ckpt.Path())
	switch {
	case err == nil:
		e.idx.Restore(docs)
		e.logger.Info("index checkpoint loaded",
			"docs", header.DocCount,
			"terms", header.TermCount,
			"created_at", time.Unix(header.CreatedAt, 0).UTC(),
		)
	case errors.Is(err, segment.ErrNoCheckpoint):
		e.logger.Info("no index checkpoint, indexing from store")
	default:
		e.logger.Warn("discarding unreadable index checkpoint", "error", err)
	}

	stats, err := reconcile(ctx, e.store, e.idx)
	if err != nil {
		return fmt.Errorf("recovering index: %w", err)
	}
	if stats.Reindexed > 0 || stats.Dropped > 0 {
		e.ckptMu.Lock()
		if err := e.checkpointLocked(); err != nil {
			e.logger.Error("checkpoint after recovery failed", "error", err)
		}
		e.ckptMu.Unlock()
	}
	e.updateGauges()
	e.logger.Info("index recovery complete",
		"entries", stats.Entries,
		"reindexed", stats.Reindexed,
		"dropped", stats.Dropped,
		"duration", time.Since(start),
	)
	return nil
}

// reconcile reindexes every stored record whose indexed version differs
// from its stored version, and drops indexed documents the store no
// longer holds.
func reconcile(ctx context.Context, store storage.Store, idx *index.MemoryIndex) (RecoveryStats, error) {
	var stats RecoveryStats
	live := make(map[string]struct{})
	err := store.Scan(ctx, func(rec storage.Record) error {
		live[rec.ID] = struct{}{}
		if seq, ok := idx.DocSeq(rec.ID); ok && seq == rec.Seq {
			return nil
		}
		idx.Replace(rec.ID, rec.Seq, indexFields(rec))
		stats.Reindexed++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("scanning store: %w", err)
	}
	for _, id := range idx.DocIDs() {
		if _, ok := live[id]; !ok {
			idx.Delete(id)
			stats.Dropped++
		}
	}
	stats.Entries = len(live)
	return stats, nil
}

// Rebuild discards the index and reindexes every stored record. Writers
// wait while it runs; searches keep seeing the old index until the new
// one replaces it.
func (e *Engine) Rebuild(ctx context.Context) (RecoveryStats, error) {
	if e.closed.Load() {
		return RecoveryStats{}, ErrClosed
	}
	var stats RecoveryStats
	err := e.locks.withAll(func() error {
		fresh := index.NewMemoryIndex(e.tok)
		var err error
		stats, err = reconcile(ctx, e.store, fresh)
		if err != nil {
			return err
		}
		e.idx.Restore(fresh.Export())
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("rebuilding index: %w", err)
	}
	e.updateGauges()
	e.logger.Info("index rebuilt", "entries", stats.Entries, "terms", e.idx.TermCount())
	return stats, e.Checkpoint(ctx)
}

// Checkpoint writes the index to disk so the next Open only reindexes
// documents written after it.
func (e *Engine) Checkpoint(_ context.Context) error {
	e.ckptMu.Lock()
	defer e.ckptMu.Unlock()
	if e.closed.Load() {
		return ErrClosed
	}
	return e.checkpointLocked()
}

func (e *Engine) checkpointLocked() error {
	e.dirty.Store(0)
	header, err := e.ckpt.Write(e.idx.Export())
	if err != nil {
		e.countCheckpoint("failed")
		return fmt.Errorf("checkpointing index: %w", err)
	}
	e.countCheckpoint("ok")
	e.logger.Info("index checkpoint written",
		"path", e.ckpt.Path(),
		"docs", header.DocCount,
		"terms", header.TermCount,
	)
	return nil
}

// Compact reclaims store space held by replaced and deleted entries, then
// checkpoints the index.
func (e *Engine) Compact(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	if err := e.store.Compact(ctx); err != nil {
		e.countCompaction("failed")
		return fmt.Errorf("compacting store: %w", err)
	}
	e.countCompaction("ok")
	e.logger.Info("store compacted", "duration", time.Since(start))
	return e.Checkpoint(ctx)
}

// StartCheckpointLoop checkpoints every configured interval while there
// are unwritten changes, until ctx is cancelled. Close takes the final
// checkpoint.
func (e *Engine) StartCheckpointLoop(ctx context.Context) {
	interval := e.cfg.Indexer.CheckpointInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("checkpoint loop stopping")
				return
			case <-ticker.C:
				if e.dirty.Load() == 0 {
					continue
				}
				if err := e.Checkpoint(ctx); err != nil && !errors.Is(err, ErrClosed) {
					e.logger.Error("periodic checkpoint failed", "error", err)
				}
			}
		}
	}()
}

func (e *Engine) countCheckpoint(status string) {
	if e.metrics != nil {
		e.metrics.CheckpointsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countCompaction(status string) {
	if e.metrics != nil {
		e.metrics.CompactionsTotal.WithLabelValues(status).Inc()
	}
}
