package benchmark

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/ranker"
)

func BenchmarkQueryParse(b *testing.B) {
	tok := &tokenizer.Simple{MinLength: 1}
	queries := map[string]string{
		"single":  "search",
		"or":      "wiki search engine",
		"and":     "rust AND ownership AND borrowing",
		"exclude": `"inverted index" -legacy NOT deprecated`,
	}
	for name, q := range queries {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := parser.Parse(q, tok); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBM25Rank(b *testing.B) {
	for _, n := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			mi := index.NewMemoryIndex(&tokenizer.Simple{MinLength: 1})
			for i := range n {
				body := "search ranking"
				if i%3 == 0 {
					body = "search search engine ranking relevance"
				}
				mi.Replace(fmt.Sprintf("doc-%d", i), uint64(i+1), []index.Field{{Name: "body", Text: body}})
			}
			terms := []string{"search", "engine"}
			snap := mi.Lookup(terms)
			candidates := make([]string, 0, len(snap.Matches))
			for id := range snap.Matches {
				candidates = append(candidates, id)
			}
			params := ranker.DefaultParams()

			b.ReportAllocs()
			for b.Loop() {
				_ = params.Rank(terms, snap, candidates)
			}
		})
	}
}

func BenchmarkExcerpt(b *testing.B) {
	tok := &tokenizer.Simple{MinLength: 1}
	content := sampleTexts["long"]
	opts := ranker.DefaultExcerptOptions()
	b.ReportAllocs()
	b.SetBytes(int64(len(content)))
	for b.Loop() {
		_ = ranker.Excerpt(tok, content, []string{"bm25", "frequency"}, opts)
	}
}
