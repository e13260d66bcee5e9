package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

func sampleDocs() []index.DocStats {
	return []index.DocStats{
		{DocID: "a", Seq: 3, Length: 3, Terms: map[string]int{"rust": 1, "ownership": 2}},
		{DocID: "b", Seq: 7, Length: 2, Terms: map[string]int{"ownership": 1, "go": 1}},
		{DocID: "empty", Seq: 9, Length: 0, Terms: map[string]int{}},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.ckpt")
	w := NewWriter(path)

	written, err := w.Write(sampleDocs())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), written.TermCount)
	assert.Equal(t, uint32(3), written.DocCount)

	docs, header, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, written, header)
	if diff := cmp.Diff(sampleDocs(), docs); diff != "" {
		t.Errorf("checkpoint round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderKeepsOffsetsBeyond4GiB(t *testing.T) {
	const big = int64(5) << 30
	want := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  10,
		DocCount:   20,
		CreatedAt:  1_780_000_000,
		PostOffset: int64(HeaderSize),
		PostSize:   big,
		DictOffset: big + int64(HeaderSize),
		DictSize:   big,
		DocsOffset: 2*big + int64(HeaderSize),
		DocsSize:   big + 7,
	}
	b := make([]byte, HeaderSize)
	putHeader(b, want)
	assert.Equal(t, want, readHeader(b))
}

func TestWriteReplacesPreviousCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.ckpt")
	w := NewWriter(path)
	_, err := w.Write(sampleDocs())
	require.NoError(t, err)

	_, err = w.Write(sampleDocs()[:1])
	require.NoError(t, err)

	docs, _, err := Read(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].DocID)
}

func TestReadEmptyIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.ckpt")
	_, err := NewWriter(path).Write(nil)
	require.NoError(t, err)

	docs, header, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, header.DocCount)
}

func TestReadMissingCheckpoint(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "absent.ckpt"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestReadDetectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"flipped body byte", func(b []byte) []byte {
			b[HeaderSize+2] ^= 0xff
			return b
		}},
		{"flipped header byte", func(b []byte) []byte {
			b[9] ^= 0x01
			return b
		}},
		{"truncated", func(b []byte) []byte {
			return b[:len(b)-3]
		}},
		{"too short", func(b []byte) []byte {
			return b[:10]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "index.ckpt")
			_, err := NewWriter(path).Write(sampleDocs())
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.mangle(data), 0644))

			_, _, err = Read(path)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
		})
	}
}
