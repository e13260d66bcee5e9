// Package segment persists the in-memory index as a single checkpoint
// file: a fixed header, one JSON postings block per term, a JSON term
// dictionary, a JSON document table and a CRC32-C footer covering
// everything before it. Checkpoints are an optimisation; the entry store
// remains the source of truth and a missing or damaged checkpoint only
// means the index is rebuilt from it.
package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/natefinch/atomic"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
)

// MagicBytes identifies a checkpoint file ("WKCP").
const (
	MagicBytes    uint32 = 0x574B4350
	FormatVersion uint32 = 2
	HeaderSize    int    = 72
	FooterSize    int    = 8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the 72-byte header written at the start of every checkpoint.
// Every section offset and size is 64-bit.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	DocsOffset int64
	DocsSize   int64
}

// DictEntry maps a term to its postings block and document frequency.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// DocEntry is one row of the document table.
type DocEntry struct {
	DocID  string `json:"id"`
	Seq    uint64 `json:"s"`
	Length int    `json:"n"`
}

// Writer serialises index exports into a checkpoint file.
type Writer struct {
	path string
	now  func() time.Time
}

// NewWriter creates a Writer that replaces the checkpoint at path.
func NewWriter(path string) *Writer {
	return &Writer{path: path, now: time.Now}
}

func (w *Writer) Path() string {
	return w.path
}

// Write encodes docs and atomically replaces the checkpoint file. Readers
// observe either the previous checkpoint or the new one, never a mix.
func (w *Writer) Write(docs []index.DocStats) (Header, error) {
	data, header, err := encode(docs, w.now())
	if err != nil {
		return Header{}, err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return Header{}, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	if err := atomic.WriteFile(w.path, bytes.NewReader(data)); err != nil {
		return Header{}, fmt.Errorf("writing checkpoint: %w", err)
	}
	return header, nil
}

func encode(docs []index.DocStats, createdAt time.Time) ([]byte, Header, error) {
	postings := make(map[string]index.PostingList)
	table := make([]DocEntry, 0, len(docs))
	for _, d := range docs {
		table = append(table, DocEntry{DocID: d.DocID, Seq: d.Seq, Length: d.Length})
		for term, tf := range d.Terms {
			postings[term] = append(postings[term], index.Posting{DocID: d.DocID, Frequency: tf})
		}
	}
	sort.Slice(table, func(i, j int) bool { return table[i].DocID < table[j].DocID })

	terms := make([]string, 0, len(postings))
	for term := range postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))

	postStart := int64(buf.Len())
	dict := make([]DictEntry, 0, len(terms))
	for _, term := range terms {
		list := postings[term]
		sort.Slice(list, func(i, j int) bool { return list[i].DocID < list[j].DocID })
		data, err := json.Marshal(list)
		if err != nil {
			return nil, Header{}, fmt.Errorf("marshaling postings for term %q: %w", term, err)
		}
		dict = append(dict, DictEntry{
			Term:       term,
			PostOffset: int64(buf.Len()) - postStart,
			PostLen:    len(data),
			DocFreq:    len(list),
		})
		buf.Write(data)
	}
	postSize := int64(buf.Len()) - postStart

	dictStart := int64(buf.Len())
	dictData, err := json.Marshal(dict)
	if err != nil {
		return nil, Header{}, fmt.Errorf("marshaling dictionary: %w", err)
	}
	buf.Write(dictData)

	docsStart := int64(buf.Len())
	docsData, err := json.Marshal(table)
	if err != nil {
		return nil, Header{}, fmt.Errorf("marshaling document table: %w", err)
	}
	buf.Write(docsData)

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(dict)),
		DocCount:   uint32(len(table)),
		CreatedAt:  createdAt.Unix(),
		PostOffset: postStart,
		PostSize:   postSize,
		DictOffset: dictStart,
		DictSize:   int64(len(dictData)),
		DocsOffset: docsStart,
		DocsSize:   int64(len(docsData)),
	}
	data := buf.Bytes()
	putHeader(data[:HeaderSize], header)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.Checksum(data, castagnoli))
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)
	return append(data, footer...), header, nil
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.DocsSize))
}
