package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
)

type memWriter struct {
	mu     sync.Mutex
	docs   map[string]indexer.Document
	writes int
}

func newMemWriter() *memWriter {
	return &memWriter{docs: make(map[string]indexer.Document)}
}

func (m *memWriter) AddEntry(_ context.Context, doc indexer.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.writes++
	return nil
}

func (m *memWriter) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memWriter) GetEntry(_ context.Context, id string) (indexer.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return indexer.Entry{}, storage.ErrNotFound
	}
	return indexer.Entry{ID: d.ID, Title: d.Title, Tags: d.Tags, Hash: d.Hash, MTime: d.ModifiedAt}, nil
}

func (m *memWriter) EntryIDs(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.docs {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memWriter) get(id string) (indexer.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWatcher(t *testing.T, root string, w Writer) *Watcher {
	t.Helper()
	return New(config.WatcherConfig{
		Root:       root,
		Extensions: []string{".md", ".txt"},
		Debounce:   20 * time.Millisecond,
	}, w)
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Page
	}{
		{
			name: "headers then body",
			raw:  "Title: Rust Guide\nTags: systems, lang\n\nownership and borrowing\n",
			want: Page{
				Title:   "Rust Guide",
				Tags:    "systems, lang",
				Headers: map[string]string{"title": "Rust Guide", "tags": "systems, lang"},
				Body:    "ownership and borrowing\n",
			},
		},
		{
			name: "no headers",
			raw:  "just some text\nmore: text here",
			want: Page{Headers: map[string]string{}, Body: "just some text\nmore: text here"},
		},
		{
			name: "header keys are case-insensitive and crlf is normalised",
			raw:  "TITLE: Home\r\nX-Author: ann\r\n\r\nbody",
			want: Page{
				Title:   "Home",
				Headers: map[string]string{"title": "Home", "x-author": "ann"},
				Body:    "body",
			},
		},
		{
			name: "headers only",
			raw:  "Title: Empty",
			want: Page{Title: "Empty", Headers: map[string]string{"title": "Empty"}},
		},
		{
			name: "leading blank line means no headers",
			raw:  "\nTitle: not a header",
			want: Page{Headers: map[string]string{}, Body: "\nTitle: not a header"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, ParsePage(tc.raw)); diff != "" {
				t.Errorf("ParsePage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPageID(t *testing.T) {
	root := t.TempDir()
	w := newWatcher(t, root, newMemWriter())

	id, err := w.PageID(filepath.Join(root, "Guides", "Rust.md"))
	require.NoError(t, err)
	assert.Equal(t, "Guides/Rust", id)

	_, err = w.PageID(filepath.Join(filepath.Dir(root), "elsewhere.md"))
	assert.Error(t, err)
}

func TestSyncIndexesChangedPagesOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Home.md"), "Title: Home\nTags: start\n\nwelcome to the wiki")
	writeFile(t, filepath.Join(root, "Guides", "Go.txt"), "goroutines and channels")
	writeFile(t, filepath.Join(root, "image.png"), "not a page")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: main")

	mw := newMemWriter()
	w := newWatcher(t, root, mw)
	ctx := context.Background()

	stats, err := w.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 2, Updated: 2}, stats)

	home, ok := mw.get("Home")
	require.True(t, ok)
	assert.Equal(t, "Home", home.Title)
	assert.Equal(t, "start", home.Tags)
	assert.Equal(t, "welcome to the wiki", home.Body)
	assert.Equal(t, indexer.ContentHash("Title: Home\nTags: start\n\nwelcome to the wiki"), home.Hash)
	assert.False(t, home.ModifiedAt.IsZero())

	stats, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 2, Unchanged: 2}, stats)

	writeFile(t, filepath.Join(root, "Home.md"), "Title: Home\n\nupdated")
	stats, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 2, Updated: 1, Unchanged: 1}, stats)
}

func TestRunFollowsFilesystemChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Existing.md"), "already here")

	mw := newMemWriter()
	w := newWatcher(t, root, mw)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, ok := mw.get("Existing")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(root, "New.md"), "Title: New\n\nfresh page")
	require.Eventually(t, func() bool {
		d, ok := mw.get("New")
		return ok && d.Title == "New"
	}, 2*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(root, "Sub", "Deep.md"), "nested page")
	require.Eventually(t, func() bool {
		_, ok := mw.get("Sub/Deep")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(root, "Existing.md")))
	require.Eventually(t, func() bool {
		_, ok := mw.get("Existing")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncRemovesPagesDeletedWhileStopped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Home.md"), "welcome")
	writeFile(t, filepath.Join(root, "Old.md"), "outdated")
	writeFile(t, filepath.Join(root, "Archive", "2019.md"), "last decade")

	mw := newMemWriter()
	require.NoError(t, mw.AddEntry(context.Background(), indexer.Document{ID: "manual", Body: "added by hand"}))
	w := New(config.WatcherConfig{Root: root, Prefix: "wiki/", Extensions: []string{".md"}}, mw)
	ctx := context.Background()

	stats, err := w.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 3, Updated: 3}, stats)

	require.NoError(t, os.Remove(filepath.Join(root, "Old.md")))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "Archive")))
	stats, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Unchanged: 1, Removed: 2}, stats)

	ids, err := mw.EntryIDs(ctx, "")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"manual", "wiki/Home"}, ids); diff != "" {
		t.Errorf("stored ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRemovesPagesOfDeletedDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Keep.md"), "stays")
	writeFile(t, filepath.Join(root, "Team", "Alice.md"), "profile")
	writeFile(t, filepath.Join(root, "Team", "Old", "Bob.md"), "profile")

	mw := newMemWriter()
	w := newWatcher(t, root, mw)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, ok := mw.get("Team/Old/Bob")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Rename(filepath.Join(root, "Team"), filepath.Join(t.TempDir(), "Team")))
	require.Eventually(t, func() bool {
		_, alice := mw.get("Team/Alice")
		_, bob := mw.get("Team/Old/Bob")
		return !alice && !bob
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := mw.get("Keep")
	assert.True(t, ok)
}
