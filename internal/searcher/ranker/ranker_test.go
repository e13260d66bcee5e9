package ranker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
)

func TestIDF(t *testing.T) {
	assert.InDelta(t, math.Log((10-2+0.5)/(2+0.5)+1), IDF(10, 2), 1e-12)
	assert.Greater(t, IDF(5, 5), 0.0, "a term in every document still scores")
	assert.Greater(t, IDF(100, 1), IDF(100, 50))
}

func TestScoreMatchesFormula(t *testing.T) {
	p := DefaultParams()
	in := ScoreInput{
		TermFreqs:    map[string]int{"rust": 2, "go": 1},
		DocLength:    10,
		AvgDocLength: 8,
		DocFreq:      map[string]int{"rust": 3, "go": 7},
		TotalDocs:    20,
	}
	want := 0.0
	for term, tf := range in.TermFreqs {
		f := float64(tf)
		want += IDF(20, in.DocFreq[term]) * (f * 2.2) / (f + 1.2*(1-0.75+0.75*10.0/8.0))
	}
	assert.InDelta(t, want, p.Score([]string{"rust", "go", "rust", "absent"}, in), 1e-12)
}

func TestScoreMonotonicInTermFrequency(t *testing.T) {
	p := DefaultParams()
	score := func(tf int) float64 {
		return p.Score([]string{"term"}, ScoreInput{
			TermFreqs:    map[string]int{"term": tf},
			DocLength:    50,
			AvgDocLength: 40,
			DocFreq:      map[string]int{"term": 4},
			TotalDocs:    30,
		})
	}
	prev := score(1)
	for tf := 2; tf <= 40; tf++ {
		cur := score(tf)
		assert.GreaterOrEqual(t, cur, prev, "tf=%d", tf)
		prev = cur
	}
}

func TestRankOrdersByScoreThenID(t *testing.T) {
	snap := index.Snapshot{
		TotalDocs:    4,
		AvgDocLength: 5,
		DocFreq:      map[string]int{"go": 3},
		Matches: map[string]index.Match{
			"b": {Seq: 1, Length: 5, TermFreqs: map[string]int{"go": 1}},
			"a": {Seq: 2, Length: 5, TermFreqs: map[string]int{"go": 1}},
			"c": {Seq: 3, Length: 5, TermFreqs: map[string]int{"go": 3}},
		},
	}
	ranked := DefaultParams().Rank([]string{"go"}, snap, []string{"a", "b", "c", "gone"})

	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].DocID)
	assert.Equal(t, uint64(3), ranked[0].Seq)
	assert.Equal(t, "a", ranked[1].DocID)
	assert.Equal(t, "b", ranked[2].DocID)
	assert.Equal(t, ranked[1].Score, ranked[2].Score)
}

func TestParamsFrom(t *testing.T) {
	assert.Equal(t, DefaultParams(), ParamsFrom(config.RankingConfig{}))
	assert.Equal(t, Params{K1: 2, B: DefaultB}, ParamsFrom(config.RankingConfig{K1: 2}))
}

func TestRoundScore(t *testing.T) {
	assert.Equal(t, 1.23, RoundScore(1.2345))
	assert.Equal(t, 0.5, RoundScore(0.499999))
}

func TestExcerptHighlightsDensestWindow(t *testing.T) {
	tok := &tokenizer.Simple{MinLength: 1}
	content := "one two three four five ownership six seven ownership borrowing eight nine ten"
	opts := ExcerptOptions{Window: 4, StartTag: "[", EndTag: "]", Ellipsis: "..."}

	got := Excerpt(tok, content, []string{"ownership", "borrowing"}, opts)
	assert.Equal(t, "...[ownership] six seven [ownership]...", got)
}

func TestExcerptWholeShortContent(t *testing.T) {
	tok := &tokenizer.Simple{MinLength: 1}
	got := Excerpt(tok, "ownership and\n\n borrowing", []string{"ownership"}, DefaultExcerptOptions())
	assert.Equal(t, "<b>ownership</b> and borrowing", got)
}

func TestExcerptFallsBackToPrefix(t *testing.T) {
	tok := &tokenizer.Simple{MinLength: 1}
	opts := ExcerptOptions{Window: 3, Ellipsis: "…"}
	got := Excerpt(tok, "alpha, beta; gamma delta epsilon", []string{"zeta"}, opts)
	assert.Equal(t, "alpha, beta; gamma…", got)

	assert.Empty(t, Excerpt(tok, "", []string{"zeta"}, opts))
}

func TestExcerptEarliestWindowOnTie(t *testing.T) {
	tok := &tokenizer.Simple{MinLength: 1}
	opts := ExcerptOptions{Window: 2, StartTag: "*", EndTag: "*", Ellipsis: ".."}
	got := Excerpt(tok, "x hit y z hit w", []string{"hit"}, opts)
	assert.Equal(t, "x *hit*..", got)
}

func TestExcerptOptionsFrom(t *testing.T) {
	assert.Equal(t, DefaultExcerptOptions(), ExcerptOptionsFrom(config.ExcerptConfig{}))
	got := ExcerptOptionsFrom(config.ExcerptConfig{Window: 5, StartTag: "<em>", EndTag: "</em>"})
	assert.Equal(t, ExcerptOptions{Window: 5, StartTag: "<em>", EndTag: "</em>", Ellipsis: "..."}, got)
}
