package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
)

type docEntry struct {
	seq    uint64
	length int
	terms  map[string]int
}

// MemoryIndex is the inverted index: term -> document -> frequency, plus a
// forward index document -> terms so a document's postings can always be
// removed as a unit. Document frequency of a term is the size of its
// posting map, so it cannot drift from the postings themselves.
type MemoryIndex struct {
	mu          sync.RWMutex
	tok         tokenizer.Tokenizer
	postings    map[string]map[string]int
	docs        map[string]*docEntry
	totalTokens int64
}

func NewMemoryIndex(tok tokenizer.Tokenizer) *MemoryIndex {
	return &MemoryIndex{
		tok:      tok,
		postings: make(map[string]map[string]int),
		docs:     make(map[string]*docEntry),
	}
}

// Replace tokenizes fields and swaps the document's postings for the new
// ones in a single critical section. It returns the document length in
// tokens.
func (m *MemoryIndex) Replace(docID string, seq uint64, fields []Field) int {
	freqs := make(map[string]int)
	length := 0
	for _, f := range fields {
		if f.Text == "" {
			continue
		}
		for _, token := range m.tok.Tokenize(f.Text) {
			freqs[token.Term]++
			length++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(docID)
	m.insertLocked(docID, seq, length, freqs)
	return length
}

// Delete removes every posting of docID. It reports whether the document
// was indexed.
func (m *MemoryIndex) Delete(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(docID)
}

func (m *MemoryIndex) removeLocked(docID string) bool {
	doc, ok := m.docs[docID]
	if !ok {
		return false
	}
	for term := range doc.terms {
		docs := m.postings[term]
		delete(docs, docID)
		if len(docs) == 0 {
			delete(m.postings, term)
		}
	}
	m.totalTokens -= int64(doc.length)
	delete(m.docs, docID)
	return true
}

func (m *MemoryIndex) insertLocked(docID string, seq uint64, length int, freqs map[string]int) {
	for term, tf := range freqs {
		docs, ok := m.postings[term]
		if !ok {
			docs = make(map[string]int)
			m.postings[term] = docs
		}
		docs[docID] = tf
	}
	m.docs[docID] = &docEntry{seq: seq, length: length, terms: freqs}
	m.totalTokens += int64(length)
}

// Lookup returns every document matching at least one of terms together
// with the corpus statistics BM25 needs, all read under one lock.
func (m *MemoryIndex) Lookup(terms []string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		TotalDocs:    len(m.docs),
		AvgDocLength: m.avgDocLengthLocked(),
		DocFreq:      make(map[string]int, len(terms)),
		Matches:      make(map[string]Match),
	}
	for _, term := range terms {
		if _, seen := snap.DocFreq[term]; seen {
			continue
		}
		docs := m.postings[term]
		snap.DocFreq[term] = len(docs)
		for docID, tf := range docs {
			match, ok := snap.Matches[docID]
			if !ok {
				doc := m.docs[docID]
				match = Match{
					Seq:       doc.seq,
					Length:    doc.length,
					TermFreqs: make(map[string]int, len(terms)),
				}
				snap.Matches[docID] = match
			}
			match.TermFreqs[term] = tf
		}
	}
	return snap
}

// DocSeq reports the store version the document's postings were built from.
func (m *MemoryIndex) DocSeq(docID string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return 0, false
	}
	return doc.seq, true
}

func (m *MemoryIndex) DocIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings)
}

func (m *MemoryIndex) AvgDocLength() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avgDocLengthLocked()
}

func (m *MemoryIndex) avgDocLengthLocked() float64 {
	if len(m.docs) == 0 {
		return 0
	}
	return float64(m.totalTokens) / float64(len(m.docs))
}

// Export copies the forward index, ordered by document ID.
func (m *MemoryIndex) Export() []DocStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DocStats, 0, len(m.docs))
	for id, doc := range m.docs {
		terms := make(map[string]int, len(doc.terms))
		for term, tf := range doc.terms {
			terms[term] = tf
		}
		out = append(out, DocStats{DocID: id, Seq: doc.seq, Length: doc.length, Terms: terms})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DocID < out[j].DocID
	})
	return out
}

// Restore replaces the whole index with the given forward-index entries.
func (m *MemoryIndex) Restore(docs []DocStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = make(map[string]map[string]int)
	m.docs = make(map[string]*docEntry, len(docs))
	m.totalTokens = 0
	for _, d := range docs {
		terms := make(map[string]int, len(d.Terms))
		for term, tf := range d.Terms {
			terms[term] = tf
		}
		m.insertLocked(d.DocID, d.Seq, d.Length, terms)
	}
}
