package executor

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/ranker"
)

// rankQueue hands out scored documents best first. Heapifying is linear,
// so a query that only needs the top few of many candidates never pays
// for a full sort.
type rankQueue []ranker.ScoredDoc

func newRankQueue(docs []ranker.ScoredDoc) *rankQueue {
	q := rankQueue(docs)
	heap.Init(&q)
	return &q
}

func (q *rankQueue) next() ranker.ScoredDoc {
	return heap.Pop(q).(ranker.ScoredDoc)
}

func (q rankQueue) Len() int { return len(q) }

func (q rankQueue) Less(i, j int) bool { return ranker.Better(q[i], q[j]) }

func (q rankQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *rankQueue) Push(x any) {
	*q = append(*q, x.(ranker.ScoredDoc))
}

func (q *rankQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
