package indexer

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// docLocks serialises writers of the same document. Documents are routed
// to a fixed set of mutexes by FNV-1a hash of their ID, so unrelated
// documents rarely contend and memory stays bounded however many IDs the
// store holds.
type docLocks struct {
	stripes [lockStripes]sync.Mutex
}

func stripeFor(docID string) int {
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32() % lockStripes)
}

// with runs fn holding the lock for docID. The lock is released however
// fn returns.
func (l *docLocks) with(docID string, fn func() error) error {
	mu := &l.stripes[stripeFor(docID)]
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// withAll runs fn while every document lock is held. Stripes are taken
// in index order so two callers cannot deadlock each other.
func (l *docLocks) withAll(fn func() error) error {
	for i := range l.stripes {
		l.stripes[i].Lock()
	}
	defer func() {
		for i := len(l.stripes) - 1; i >= 0; i-- {
			l.stripes[i].Unlock()
		}
	}()
	return fn()
}
