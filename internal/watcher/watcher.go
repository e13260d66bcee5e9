// Package watcher keeps a directory of wiki pages indexed. A full sync
// indexes every page whose content hash differs from the stored entry and
// deletes stored pages that no longer exist. Run then follows filesystem
// events, debouncing bursts of writes to the same file.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
)

// Writer is the part of *indexer.Engine the watcher uses.
type Writer interface {
	AddEntry(ctx context.Context, doc indexer.Document) error
	DeleteEntry(ctx context.Context, id string) error
	GetEntry(ctx context.Context, id string) (indexer.Entry, error)
	EntryIDs(ctx context.Context, prefix string) ([]string, error)
}

// SyncStats summarises a full directory sync.
type SyncStats struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

type Watcher struct {
	root     string
	prefix   string
	exts     []string
	debounce time.Duration
	writer   Writer
	logger   *slog.Logger

	// dirs holds the watched directories; only Run's goroutine uses it.
	dirs map[string]bool

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	stopped chan struct{}
}

func New(cfg config.WatcherConfig, writer Writer) *Watcher {
	exts := make([]string, len(cfg.Extensions))
	for i, ext := range cfg.Extensions {
		exts[i] = strings.ToLower(ext)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		root:     filepath.Clean(cfg.Root),
		prefix:   cfg.Prefix,
		exts:     exts,
		debounce: debounce,
		writer:   writer,
		logger:   slog.Default().With("component", "watcher", "root", cfg.Root),
		dirs:     make(map[string]bool),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string, 64),
		stopped:  make(chan struct{}),
	}
}

// PageID maps a page path under root to its entry ID: the prefix followed
// by the slash-separated relative path without its extension.
func (w *Watcher) PageID(path string) (string, error) {
	rel, err := w.rel(path)
	if err != nil {
		return "", err
	}
	return w.prefix + strings.TrimSuffix(rel, filepath.Ext(rel)), nil
}

func (w *Watcher) rel(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", path, w.root)
	}
	return filepath.ToSlash(rel), nil
}

func (w *Watcher) isPage(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return len(w.exts) == 0 || slices.Contains(w.exts, strings.ToLower(filepath.Ext(path)))
}

// Sync indexes every page under root that changed since it was last
// indexed, then deletes the stored entries under the prefix whose page is
// gone. Nothing is deleted when the walk fails.
func (w *Watcher) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	start := time.Now()
	seen := make(map[string]bool)
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !w.isPage(path) {
			return nil
		}
		stats.Scanned++
		if id, err := w.PageID(path); err == nil {
			seen[id] = true
		}
		changed, err := w.indexFile(ctx, path)
		switch {
		case err != nil:
			stats.Failed++
			w.logger.Error("indexing page failed", "path", path, "error", err)
		case changed:
			stats.Updated++
		default:
			stats.Unchanged++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking %s: %w", w.root, err)
	}
	removed, err := w.removeMissing(ctx, w.prefix, func(id string) bool { return seen[id] })
	stats.Removed = removed
	if err != nil {
		return stats, err
	}
	w.logger.Info("directory synced",
		"scanned", stats.Scanned,
		"updated", stats.Updated,
		"removed", stats.Removed,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
	return stats, nil
}

// removeMissing deletes the stored entries starting with prefix for which
// keep reports false. An entry deleted concurrently is not an error.
func (w *Watcher) removeMissing(ctx context.Context, prefix string, keep func(id string) bool) (int, error) {
	ids, err := w.writer.EntryIDs(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if keep(id) {
			continue
		}
		err := w.writer.DeleteEntry(ctx, id)
		switch {
		case err == nil:
			removed++
			w.logger.Info("page removed", "doc_id", id)
		case errors.Is(err, storage.ErrNotFound):
		default:
			return removed, fmt.Errorf("removing %q: %w", id, err)
		}
	}
	return removed, nil
}

// indexFile upserts the page at path unless the stored entry already has
// its content hash.
func (w *Watcher) indexFile(ctx context.Context, path string) (bool, error) {
	id, err := w.PageID(path)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading page: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat page: %w", err)
	}
	hash := indexer.ContentHash(string(raw))
	if entry, err := w.writer.GetEntry(ctx, id); err == nil && entry.Hash == hash {
		return false, nil
	}
	page := ParsePage(string(raw))
	err = w.writer.AddEntry(ctx, indexer.Document{
		ID:         id,
		Title:      page.Title,
		Body:       page.Body,
		Tags:       page.Tags,
		Hash:       hash,
		ModifiedAt: info.ModTime(),
	})
	if err != nil {
		return false, err
	}
	w.logger.Debug("page indexed", "doc_id", id, "path", path)
	return true, nil
}

// Run syncs the directory, then applies filesystem changes until ctx is
// cancelled. A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := w.watchTree(fw, w.root); err != nil {
		return err
	}
	if _, err := w.Sync(ctx); err != nil {
		return err
	}
	defer func() {
		close(w.stopped)
		w.stopTimers()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("filesystem watcher error", "error", err)
		case path := <-w.ready:
			w.apply(ctx, path)
		}
	}
}

func (w *Watcher) watchTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		w.dirs[path] = true
		return nil
	})
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(fw, ev.Name); err != nil {
				w.logger.Error("watching new directory failed", "path", ev.Name, "error", err)
			}
			w.scheduleTree(ev.Name)
			return
		}
	}
	if w.dirs[ev.Name] && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		w.schedule(ev.Name)
		return
	}
	if !w.isPage(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.schedule(ev.Name)
	}
}

// scheduleTree queues the pages of a directory that appeared after it was
// walked, such as one moved into root.
func (w *Watcher) scheduleTree(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && w.isPage(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule applies path once no further event for it arrives within the
// debounce interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.stopped:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// apply brings the entry for path in line with the file: indexed when it
// exists, deleted when it is gone. A removed directory takes every stored
// page under it along.
func (w *Watcher) apply(ctx context.Context, path string) {
	_, statErr := os.Stat(path)
	if w.dirs[path] {
		if errors.Is(statErr, fs.ErrNotExist) {
			w.removeDir(ctx, path)
		}
		return
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		id, err := w.PageID(path)
		if err != nil {
			return
		}
		err = w.writer.DeleteEntry(ctx, id)
		switch {
		case err == nil:
			w.logger.Info("page removed", "doc_id", id)
		case !errors.Is(err, storage.ErrNotFound):
			w.logger.Error("removing page failed", "doc_id", id, "error", err)
		}
		return
	}
	changed, err := w.indexFile(ctx, path)
	if err != nil {
		w.logger.Error("indexing page failed", "path", path, "error", err)
		return
	}
	if changed {
		w.logger.Info("page updated", "path", path)
	}
}

func (w *Watcher) removeDir(ctx context.Context, dir string) {
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, dir+string(filepath.Separator)) {
			delete(w.dirs, d)
		}
	}
	rel, err := w.rel(dir)
	if err != nil {
		return
	}
	n, err := w.removeMissing(ctx, w.prefix+rel+"/", func(string) bool { return false })
	if err != nil {
		w.logger.Error("removing directory pages failed", "path", dir, "error", err)
		return
	}
	w.logger.Info("directory removed", "path", dir, "pages", n)
}
