package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

func writeLog(t *testing.T, dir string, ids ...string) {
	t.Helper()
	s, err := OpenLog(dir, true)
	require.NoError(t, err)
	for i, id := range ids {
		_, err := s.Put(context.Background(), rec(id, i))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
}

func logSize(t *testing.T, dir string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	return info.Size()
}

func TestLogTornTailIsTruncated(t *testing.T) {
	tests := []struct {
		name string
		tail func(t *testing.T) []byte
	}{
		{"partial frame header", func(t *testing.T) []byte {
			return []byte{0x10, 0x00, 0x00}
		}},
		{"frame longer than file", func(t *testing.T) []byte {
			return []byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, '{', '"'}
		}},
		{"bad checksum on last frame", func(t *testing.T) []byte {
			data, err := encodeFrame(frame{Op: opPut, Seq: 99, Record: &Record{ID: "ghost"}})
			require.NoError(t, err)
			data[len(data)-2] ^= 0xff
			return data
		}},
		{"zero-filled tail", func(t *testing.T) []byte {
			return make([]byte, 64)
		}},
		{"frame header over zeroed payload", func(t *testing.T) []byte {
			data, err := encodeFrame(frame{Op: opPut, Seq: 99, Record: &Record{ID: "ghost"}})
			require.NoError(t, err)
			clear(data[frameHeaderSize:])
			return append(data, make([]byte, 4096)...)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeLog(t, dir, "a", "b")
			clean := logSize(t, dir)

			f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_WRONLY|os.O_APPEND, 0644)
			require.NoError(t, err)
			_, err = f.Write(tt.tail(t))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			s, err := OpenLog(dir, true)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, clean, logSize(t, dir))
			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			_, err = s.Get(ctx, "ghost")
			assert.ErrorIs(t, err, ErrNotFound)

			next, err := s.Put(ctx, rec("c", 0))
			require.NoError(t, err)
			assert.Equal(t, uint64(3), next.Seq)
		})
	}
}

func TestLogInteriorCorruptionIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a", "b", "c")

	path := filepath.Join(dir, LogFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// First payload byte of the first frame.
	data[logHeaderSize+frameHeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = OpenLog(dir, true)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
}

func TestLogZeroedFrameBeforeValidDataIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a")

	valid, err := encodeFrame(frame{Op: opPut, Seq: 2, Record: &Record{ID: "b"}})
	require.NoError(t, err)
	f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(append(make([]byte, frameHeaderSize), valid...))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = OpenLog(dir, true)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLogBadHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LogFileName), []byte("not a record log at all"), 0644))

	_, err := OpenLog(dir, false)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLogCompactShrinksFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenLog(dir, false)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 50; i++ {
		_, err := s.Put(ctx, rec("a", i))
		require.NoError(t, err)
	}
	before := logSize(t, dir)
	require.NoError(t, s.Compact(ctx))
	after := logSize(t, dir)
	assert.Less(t, after, before)

	_, err = s.Put(ctx, rec("b", 0))
	require.NoError(t, err)
	assert.Greater(t, logSize(t, dir), after, "appends continue on the compacted file")
}
