package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	idx     *index.MemoryIndex
	records map[string]storage.Record
	failOn  string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		idx:     index.NewMemoryIndex(&tokenizer.Simple{MinLength: 1}),
		records: make(map[string]storage.Record),
	}
}

func (f *fakeSource) put(id, title, body string, seq uint64, mtime time.Time) {
	f.records[id] = storage.Record{ID: id, Title: title, Body: body, ModifiedAt: mtime, Seq: seq}
	f.idx.Replace(id, seq, []index.Field{{Name: "title", Text: title}, {Name: "body", Text: body}})
}

func (f *fakeSource) Lookup(terms []string) index.Snapshot {
	return f.idx.Lookup(terms)
}

func (f *fakeSource) Fetch(_ context.Context, id string) (storage.Record, error) {
	if id == f.failOn {
		return storage.Record{}, errors.New("disk on fire")
	}
	rec, ok := f.records[id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func newExecutor(src Source) *Executor {
	return New(src, &tokenizer.Simple{MinLength: 1}, ranker.DefaultParams(), ranker.DefaultExcerptOptions())
}

func run(t *testing.T, src Source, query string, limit int) *SearchResult {
	t.Helper()
	plan, err := parser.Parse(query, &tokenizer.Simple{MinLength: 1})
	require.NoError(t, err)
	res, err := newExecutor(src).Execute(context.Background(), plan, limit)
	require.NoError(t, err)
	return res
}

func resultIDs(res *SearchResult) []string {
	out := make([]string, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.ID
	}
	return out
}

func TestExecuteSingleTerm(t *testing.T) {
	src := newFakeSource()
	src.put("a", "Rust Guide", "ownership and borrowing", 1, t0)
	src.put("b", "Go Guide", "goroutines and channels", 2, t0)

	res := run(t, src, "ownership", 10)
	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "Rust Guide", got.Title)
	assert.Greater(t, got.Score, 0.0)
	assert.Contains(t, got.Excerpt, "ownership")
	assert.Equal(t, "Rust Guide <b>ownership</b> and borrowing", got.Excerpt)
	assert.Equal(t, 1, res.TotalHits)
	assert.Equal(t, map[string]int{"ownership": 1}, res.TermStats)
}

func TestExecuteBooleanSemantics(t *testing.T) {
	src := newFakeSource()
	src.put("both", "", "rust go", 1, t0)
	src.put("rust", "", "rust only", 2, t0)
	src.put("go", "", "go only", 3, t0)

	assert.ElementsMatch(t, []string{"both", "rust", "go"}, resultIDs(run(t, src, "rust go", 10)))
	assert.Equal(t, []string{"both"}, resultIDs(run(t, src, "rust AND go", 10)))
	assert.Equal(t, []string{"rust"}, resultIDs(run(t, src, "rust -go", 10)))
	assert.Equal(t, []string{"go"}, resultIDs(run(t, src, "go NOT rust", 10)))
}

func TestExecuteOrdersTiesByModifiedAtThenID(t *testing.T) {
	src := newFakeSource()
	src.put("c", "", "same words", 1, t0)
	src.put("a", "", "same words", 2, t0)
	src.put("b", "", "same words", 3, t0.Add(time.Hour))

	assert.Equal(t, []string{"b", "a", "c"}, resultIDs(run(t, src, "same", 10)))
}

func TestExecuteCompletesTieGroupBeforeTruncating(t *testing.T) {
	src := newFakeSource()
	src.put("a", "", "tie", 1, t0)
	src.put("z", "", "tie", 2, t0.Add(time.Hour))

	// Full-precision order alone would pick "a"; the newer "z" must win.
	assert.Equal(t, []string{"z"}, resultIDs(run(t, src, "tie", 1)))
}

func TestExecuteHigherFrequencyRanksFirst(t *testing.T) {
	src := newFakeSource()
	src.put("low", "", "term filler filler", 1, t0)
	src.put("high", "", "term term filler", 2, t0)

	res := run(t, src, "term", 10)
	assert.Equal(t, []string{"high", "low"}, resultIDs(res))
	assert.GreaterOrEqual(t, res.Results[0].Score, res.Results[1].Score)
}

func TestExecuteSkipsMissingAndStaleRecords(t *testing.T) {
	src := newFakeSource()
	src.put("gone", "", "needle", 1, t0)
	src.put("stale", "", "needle", 2, t0)
	src.put("live", "", "needle", 3, t0)
	delete(src.records, "gone")
	stale := src.records["stale"]
	stale.Seq = 9
	stale.Body = "rewritten without the word"
	src.records["stale"] = stale

	res := run(t, src, "needle", 10)
	assert.Equal(t, []string{"live"}, resultIDs(res))
	assert.Equal(t, 3, res.TotalHits)
}

func TestExecuteFillsLimitPastSkippedRecords(t *testing.T) {
	src := newFakeSource()
	src.put("best", "", "hit hit hit", 1, t0)
	src.put("good", "", "hit hit other", 2, t0)
	src.put("ok", "", "hit other other", 3, t0)
	delete(src.records, "best")

	assert.Equal(t, []string{"good", "ok"}, resultIDs(run(t, src, "hit", 2)))
}

func TestExecuteStorageErrorFailsQuery(t *testing.T) {
	src := newFakeSource()
	src.put("a", "", "needle", 1, t0)
	src.failOn = "a"

	plan, err := parser.Parse("needle", &tokenizer.Simple{MinLength: 1})
	require.NoError(t, err)
	res, err := newExecutor(src).Execute(context.Background(), plan, 10)
	assert.Nil(t, res)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestExecuteEmptyPlanAndNoMatches(t *testing.T) {
	src := newFakeSource()
	src.put("a", "", "something", 1, t0)

	res := run(t, src, "???", 10)
	assert.Empty(t, res.Results)
	assert.NotNil(t, res.Results)

	res = run(t, src, "nothing", 10)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.TotalHits)
}

func TestExecuteRoundsDisplayScore(t *testing.T) {
	src := newFakeSource()
	src.put("a", "", "alpha beta gamma", 1, t0)
	src.put("b", "", "delta", 2, t0)

	res := run(t, src, "alpha", 10)
	require.Len(t, res.Results, 1)
	score := res.Results[0].Score
	assert.Equal(t, ranker.RoundScore(score), score)
}

func TestIndexedText(t *testing.T) {
	assert.Equal(t, "T\nB\ntag", IndexedText(storage.Record{Title: "T", Body: "B", Tags: "tag"}))
	assert.Equal(t, "T\ntag", IndexedText(storage.Record{Title: "T", Tags: "tag"}))
	assert.Empty(t, IndexedText(storage.Record{}))
}

func TestExcerptFromTitleOnlyEntry(t *testing.T) {
	src := newFakeSource()
	src.put("a", "Title Only Page", "", 1, t0)

	res := run(t, src, "title", 10)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "<b>Title</b> Only Page", res.Results[0].Excerpt)
}

func TestRankQueueYieldsBestFirst(t *testing.T) {
	q := newRankQueue([]ranker.ScoredDoc{
		{DocID: "b", Score: 1},
		{DocID: "c", Score: 3},
		{DocID: "a", Score: 1},
		{DocID: "d", Score: 2},
	})
	var order []string
	for q.Len() > 0 {
		order = append(order, q.next().DocID)
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, order)
}
