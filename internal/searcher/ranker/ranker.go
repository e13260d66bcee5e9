// Package ranker scores candidate documents with Okapi BM25 and builds
// highlighted excerpts for search results.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
)

// Standard BM25 constants.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// ParamsFrom falls back to the standard constant for any unset value.
func ParamsFrom(cfg config.RankingConfig) Params {
	p := DefaultParams()
	if cfg.K1 > 0 {
		p.K1 = cfg.K1
	}
	if cfg.B > 0 {
		p.B = cfg.B
	}
	return p
}

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Seq   uint64  `json:"-"`
	Score float64 `json:"score"`
}

// ScoreInput carries the statistics BM25 needs for one document.
type ScoreInput struct {
	TermFreqs    map[string]int
	DocLength    int
	AvgDocLength float64
	DocFreq      map[string]int
	TotalDocs    int
}

// Score sums, over the distinct query terms present in the document,
// idf(t) * f(t,d)*(k1+1) / (f(t,d) + k1*(1 - b + b*|d|/avgdl)).
func (p Params) Score(terms []string, in ScoreInput) float64 {
	seen := make(map[string]struct{}, len(terms))
	score := 0.0
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		tf := in.TermFreqs[term]
		if tf == 0 {
			continue
		}
		idf := IDF(in.TotalDocs, in.DocFreq[term])
		score += idf * p.tfNorm(float64(tf), float64(in.DocLength), in.AvgDocLength)
	}
	return score
}

// IDF is ln((N - df + 0.5)/(df + 0.5) + 1), which stays positive even for
// terms present in every document.
func IDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func (p Params) tfNorm(termFreq, docLength, avgDocLength float64) float64 {
	lengthRatio := 1.0
	if avgDocLength > 0 {
		lengthRatio = docLength / avgDocLength
	}
	denominator := termFreq + p.K1*(1-p.B+p.B*lengthRatio)
	return (termFreq * (p.K1 + 1)) / denominator
}

// Scores scores every candidate present in snap, in candidate order.
func (p Params) Scores(terms []string, snap index.Snapshot, candidates []string) []ScoredDoc {
	result := make([]ScoredDoc, 0, len(candidates))
	for _, docID := range candidates {
		match, ok := snap.Matches[docID]
		if !ok {
			continue
		}
		result = append(result, ScoredDoc{
			DocID: docID,
			Seq:   match.Seq,
			Score: p.Score(terms, ScoreInput{
				TermFreqs:    match.TermFreqs,
				DocLength:    match.Length,
				AvgDocLength: snap.AvgDocLength,
				DocFreq:      snap.DocFreq,
				TotalDocs:    snap.TotalDocs,
			}),
		})
	}
	return result
}

// Rank is Scores ordered by full precision score descending, ties by
// document ID.
func (p Params) Rank(terms []string, snap index.Snapshot, candidates []string) []ScoredDoc {
	result := p.Scores(terms, snap, candidates)
	sort.Slice(result, func(i, j int) bool {
		return Better(result[i], result[j])
	})
	return result
}

// Better reports whether a ranks ahead of b.
func Better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// RoundScore rounds a score to two decimals for display only.
func RoundScore(score float64) float64 {
	return math.Round(score*100) / 100
}
