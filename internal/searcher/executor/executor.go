package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/tracing"
)

// DefaultLimit is used when Execute is called with a non-positive limit.
const DefaultLimit = 50

// Source is what the executor reads: index statistics and postings, and
// the stored records they point at.
type Source interface {
	Lookup(terms []string) index.Snapshot
	Fetch(ctx context.Context, id string) (storage.Record, error)
}

// Result is one search hit.
type Result struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Tags    string    `json:"tags"`
	MTime   time.Time `json:"mtime"`
	Score   float64   `json:"score"`
	Excerpt string    `json:"excerpt"`
}

type SearchResult struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Results   []Result       `json:"results"`
	TermStats map[string]int `json:"term_stats"`
}

type Executor struct {
	source  Source
	tok     tokenizer.Tokenizer
	params  ranker.Params
	excerpt ranker.ExcerptOptions
	logger  *slog.Logger
}

func New(source Source, tok tokenizer.Tokenizer, params ranker.Params, excerpt ranker.ExcerptOptions) *Executor {
	return &Executor{
		source:  source,
		tok:     tok,
		params:  params,
		excerpt: excerpt,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

type hit struct {
	doc ranker.ScoredDoc
	rec storage.Record
}

// Execute runs plan: index lookup, candidate selection, BM25 ranking, then
// metadata fetches in rank order. A candidate whose record is gone, or
// whose record version differs from the one its postings were built from,
// is skipped. Fetching continues past limit until the last score tie group
// is complete so ties can be ordered by modification time.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	result := &SearchResult{
		Query:     plan.RawQuery,
		Results:   []Result{},
		TermStats: make(map[string]int),
	}
	if plan.Empty() {
		return result, nil
	}

	_, lookupSpan := tracing.StartChildSpan(ctx, "search.lookup")
	snap := e.source.Lookup(plan.LookupTerms())
	candidates := selectCandidates(plan, snap)
	lookupSpan.SetAttr("candidates", len(candidates))
	lookupSpan.End()

	for _, term := range plan.Terms {
		result.TermStats[term] = snap.DocFreq[term]
	}
	result.TotalHits = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "search.rank")
	queue := newRankQueue(e.params.Scores(plan.Terms, snap, candidates))
	rankSpan.End()

	fetchCtx, fetchSpan := tracing.StartChildSpan(ctx, "search.fetch")
	hits, skipped, err := e.fetch(fetchCtx, queue, limit)
	fetchSpan.SetAttr("skipped", skipped)
	fetchSpan.End()
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.doc.Score != b.doc.Score {
			return a.doc.Score > b.doc.Score
		}
		if !a.rec.ModifiedAt.Equal(b.rec.ModifiedAt) {
			return a.rec.ModifiedAt.After(b.rec.ModifiedAt)
		}
		return a.rec.ID < b.rec.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	result.Results = make([]Result, 0, len(hits))
	for _, h := range hits {
		result.Results = append(result.Results, Result{
			ID:      h.rec.ID,
			Title:   h.rec.Title,
			Tags:    h.rec.Tags,
			MTime:   h.rec.ModifiedAt,
			Score:   ranker.RoundScore(h.doc.Score),
			Excerpt: ranker.Excerpt(e.tok, IndexedText(h.rec), plan.Terms, e.excerpt),
		})
	}

	e.logger.Info("query executed",
		"query", plan.RawQuery,
		"type", plan.Type.String(),
		"terms", plan.Terms,
		"candidates", len(candidates),
		"skipped", skipped,
		"results", len(result.Results),
	)
	return result, nil
}

// IndexedText is the text a record's postings are built from: its
// non-empty title, body and tags, one per line.
func IndexedText(rec storage.Record) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{rec.Title, rec.Body, rec.Tags} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}

func (e *Executor) fetch(ctx context.Context, queue *rankQueue, limit int) ([]hit, int, error) {
	hits := make([]hit, 0, limit)
	skipped := 0
	for queue.Len() > 0 {
		doc := queue.next()
		if len(hits) >= limit && doc.Score != hits[len(hits)-1].doc.Score {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		rec, err := e.source.Fetch(ctx, doc.DocID)
		if errors.Is(err, storage.ErrNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("fetching %q: %w", doc.DocID, err)
		}
		if rec.Seq != doc.Seq {
			e.logger.Debug("skipping document pending reindex",
				"doc_id", doc.DocID,
				"indexed_seq", doc.Seq,
				"stored_seq", rec.Seq,
			)
			skipped++
			continue
		}
		hits = append(hits, hit{doc: doc, rec: rec})
	}
	return hits, skipped, nil
}

// selectCandidates applies the plan's boolean semantics to the looked-up
// matches, returning candidate IDs in sorted order.
func selectCandidates(plan *parser.QueryPlan, snap index.Snapshot) []string {
	candidates := make([]string, 0, len(snap.Matches))
	for docID, match := range snap.Matches {
		if excluded(plan.ExcludeTerms, match) {
			continue
		}
		present := 0
		for _, term := range plan.Terms {
			if match.TermFreqs[term] > 0 {
				present++
			}
		}
		switch plan.Type {
		case parser.QueryAND:
			if present < len(plan.Terms) {
				continue
			}
		default:
			if present == 0 {
				continue
			}
		}
		candidates = append(candidates, docID)
	}
	sort.Strings(candidates)
	return candidates
}

func excluded(terms []string, match index.Match) bool {
	for _, term := range terms {
		if match.TermFreqs[term] > 0 {
			return true
		}
	}
	return false
}
