package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint file exists yet.
	ErrNoCheckpoint = errors.New("no checkpoint")
	// ErrCorrupt is returned when a checkpoint fails validation.
	ErrCorrupt = fmt.Errorf("checkpoint: %w", apperrors.ErrCorruptIndex)
)

// Read loads and validates the checkpoint at path and returns its
// forward-index entries ordered by document ID.
func Read(path string) ([]index.DocStats, Header, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Header{}, ErrNoCheckpoint
	}
	if err != nil {
		return nil, Header{}, fmt.Errorf("reading checkpoint: %w", err)
	}
	return decode(data)
}

func decode(data []byte) ([]index.DocStats, Header, error) {
	if len(data) < HeaderSize+FooterSize {
		return nil, Header{}, fmt.Errorf("%w: file too short (%d bytes)", ErrCorrupt, len(data))
	}
	body := data[:len(data)-FooterSize]
	footer := data[len(data)-FooterSize:]
	if binary.LittleEndian.Uint32(footer[4:8]) != MagicBytes {
		return nil, Header{}, fmt.Errorf("%w: bad footer magic", ErrCorrupt)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.Checksum(body, castagnoli); want != got {
		return nil, Header{}, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)", ErrCorrupt, want, got)
	}

	header := readHeader(body[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, Header{}, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	postings, err := section(body, header.PostOffset, header.PostSize)
	if err != nil {
		return nil, Header{}, err
	}
	dictBytes, err := section(body, header.DictOffset, header.DictSize)
	if err != nil {
		return nil, Header{}, err
	}
	docsBytes, err := section(body, header.DocsOffset, header.DocsSize)
	if err != nil {
		return nil, Header{}, err
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, Header{}, fmt.Errorf("%w: parsing dictionary: %v", ErrCorrupt, err)
	}
	var table []DocEntry
	if err := json.Unmarshal(docsBytes, &table); err != nil {
		return nil, Header{}, fmt.Errorf("%w: parsing document table: %v", ErrCorrupt, err)
	}
	if len(dict) != int(header.TermCount) || len(table) != int(header.DocCount) {
		return nil, Header{}, fmt.Errorf("%w: header counts disagree with contents", ErrCorrupt)
	}

	docs := make(map[string]*index.DocStats, len(table))
	for _, row := range table {
		docs[row.DocID] = &index.DocStats{
			DocID:  row.DocID,
			Seq:    row.Seq,
			Length: row.Length,
			Terms:  make(map[string]int),
		}
	}
	for _, entry := range dict {
		block, err := section(postings, entry.PostOffset, int64(entry.PostLen))
		if err != nil {
			return nil, Header{}, err
		}
		var list index.PostingList
		if err := json.Unmarshal(block, &list); err != nil {
			return nil, Header{}, fmt.Errorf("%w: parsing postings for %q: %v", ErrCorrupt, entry.Term, err)
		}
		if len(list) != entry.DocFreq {
			return nil, Header{}, fmt.Errorf("%w: document frequency mismatch for %q", ErrCorrupt, entry.Term)
		}
		for _, p := range list {
			doc, ok := docs[p.DocID]
			if !ok {
				return nil, Header{}, fmt.Errorf("%w: posting for unknown document %q", ErrCorrupt, p.DocID)
			}
			doc.Terms[entry.Term] = p.Frequency
		}
	}

	out := make([]index.DocStats, 0, len(docs))
	for _, doc := range docs {
		sum := 0
		for _, tf := range doc.Terms {
			sum += tf
		}
		if sum != doc.Length {
			return nil, Header{}, fmt.Errorf("%w: length mismatch for %q", ErrCorrupt, doc.DocID)
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, header, nil
}

func section(data []byte, offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > int64(len(data)) {
		return nil, fmt.Errorf("%w: section [%d,+%d) out of bounds", ErrCorrupt, offset, size)
	}
	return data[offset : offset+size], nil
}

func readHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[56:64])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[64:72])),
	}
}
