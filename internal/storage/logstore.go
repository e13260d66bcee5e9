package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// LogFileName is the record log inside the data directory.
const LogFileName = "entries.log"

const (
	logMagic        uint32 = 0x574B4C47 // "WKLG"
	logVersion      uint32 = 1
	logHeaderSize          = 16
	frameHeaderSize        = 8
	maxFrameSize           = 64 << 20
)

const (
	opPut    = "put"
	opDelete = "del"
	// opMark records the sequence high-water mark so compaction never
	// lets a sequence number be handed out twice.
	opMark = "mark"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// frame is the JSON payload of one log frame.
type frame struct {
	Op     string  `json:"op"`
	Seq    uint64  `json:"seq"`
	ID     string  `json:"id,omitempty"`
	Record *Record `json:"record,omitempty"`
}

// LogStore is an append-only log of checksummed frames
// ([len u32][crc32c u32][payload]) replayed into memory at open.
type LogStore struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	size    int64
	sync    bool
	seq     uint64
	records map[string]Record
	lock    *dirLock
	closed  bool
	logger  *slog.Logger
}

// OpenLog opens or creates the record log in dir. A torn final frame left
// by a crash is truncated; damage anywhere else fails with ErrCorrupt. The
// directory stays locked until Close; a second open fails with ErrLocked.
func OpenLog(dir string, syncWrites bool) (*LogStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioError("creating data directory", err)
	}
	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LogFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		lock.release()
		return nil, ioError("opening record log", err)
	}
	s := &LogStore{
		path:    path,
		file:    f,
		sync:    syncWrites,
		records: make(map[string]Record),
		lock:    lock,
		logger:  slog.Default().With("component", "logstore"),
	}
	if err := s.load(); err != nil {
		f.Close()
		lock.release()
		return nil, err
	}
	s.logger.Info("record log opened",
		"path", path,
		"records", len(s.records),
		"seq", s.seq,
		"bytes", s.size,
	)
	return s, nil
}

func (s *LogStore) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return ioError("stat record log", err)
	}
	if info.Size() == 0 {
		header := encodeLogHeader()
		if _, err := s.file.WriteAt(header, 0); err != nil {
			return ioError("writing log header", err)
		}
		if err := s.file.Sync(); err != nil {
			return ioError("syncing log header", err)
		}
		s.size = int64(len(header))
		return nil
	}
	if info.Size() < logHeaderSize {
		return fmt.Errorf("%w: record log shorter than its header", ErrCorrupt)
	}

	header := make([]byte, logHeaderSize)
	if _, err := s.file.ReadAt(header, 0); err != nil {
		return ioError("reading log header", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != logMagic {
		return fmt.Errorf("%w: bad log magic %x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != logVersion {
		return fmt.Errorf("%w: unsupported log version %d", ErrCorrupt, v)
	}

	end, err := s.replay(io.NewSectionReader(s.file, logHeaderSize, info.Size()-logHeaderSize), info.Size())
	if err != nil {
		return err
	}
	if end < info.Size() {
		s.logger.Warn("truncating torn tail of record log",
			"valid_bytes", end,
			"dropped_bytes", info.Size()-end,
		)
		if err := s.file.Truncate(end); err != nil {
			return ioError("truncating torn tail", err)
		}
		if err := s.file.Sync(); err != nil {
			return ioError("syncing truncated log", err)
		}
	}
	s.size = end
	return nil
}

// replay applies every intact frame and returns the offset just past the
// last one. A zero-filled remainder, left when a crash persists the file
// size but not its data blocks, ends the log like any other torn tail.
func (s *LogStore) replay(r io.Reader, fileSize int64) (int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	offset := int64(logHeaderSize)
	hdr := make([]byte, frameHeaderSize)
	for offset < fileSize {
		if fileSize-offset < frameHeaderSize {
			return offset, nil
		}
		if _, err := io.ReadFull(br, hdr); err != nil {
			return 0, ioError("reading frame header", err)
		}
		length := int64(binary.LittleEndian.Uint32(hdr[0:4]))
		sum := binary.LittleEndian.Uint32(hdr[4:8])
		frameEnd := offset + frameHeaderSize + length
		if length > maxFrameSize || frameEnd > fileSize {
			return offset, nil
		}
		if length == 0 {
			if isZero(hdr) {
				if zero, err := restIsZero(br); err != nil || zero {
					return offset, err
				}
			}
			return 0, fmt.Errorf("%w: empty frame at offset %d", ErrCorrupt, offset)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return 0, ioError("reading frame payload", err)
		}
		if crc32.Checksum(payload, castagnoli) != sum {
			if frameEnd == fileSize {
				return offset, nil
			}
			if isZero(payload) {
				if zero, err := restIsZero(br); err != nil || zero {
					return offset, err
				}
			}
			return 0, fmt.Errorf("%w: checksum mismatch in frame at offset %d", ErrCorrupt, offset)
		}
		var fr frame
		if err := json.Unmarshal(payload, &fr); err != nil {
			return 0, fmt.Errorf("%w: undecodable frame at offset %d: %v", ErrCorrupt, offset, err)
		}
		if err := s.apply(fr); err != nil {
			return 0, fmt.Errorf("frame at offset %d: %w", offset, err)
		}
		offset = frameEnd
	}
	return offset, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// restIsZero reports whether everything left in r is zero bytes.
func restIsZero(r io.Reader) (bool, error) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if !isZero(buf[:n]) {
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, ioError("reading record log tail", err)
		}
	}
}

func (s *LogStore) apply(fr frame) error {
	switch fr.Op {
	case opPut:
		if fr.Record == nil || fr.Record.ID == "" {
			return fmt.Errorf("%w: put frame without record", ErrCorrupt)
		}
		rec := *fr.Record
		rec.Seq = fr.Seq
		s.records[rec.ID] = rec
	case opDelete:
		delete(s.records, fr.ID)
	case opMark:
	default:
		return fmt.Errorf("%w: unknown frame op %q", ErrCorrupt, fr.Op)
	}
	if fr.Seq > s.seq {
		s.seq = fr.Seq
	}
	return nil
}

func encodeLogHeader() []byte {
	header := make([]byte, logHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], logMagic)
	binary.LittleEndian.PutUint32(header[4:8], logVersion)
	return header
}

func encodeFrame(fr frame) ([]byte, error) {
	payload, err := json.Marshal(fr)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, castagnoli))
	copy(buf[frameHeaderSize:], payload)
	return buf, nil
}

// appendLocked writes one frame at the end of the log. A failed write is
// rolled back by truncating to the previous end so the next append starts
// on a frame boundary.
func (s *LogStore) appendLocked(fr frame) error {
	buf, err := encodeFrame(fr)
	if err != nil {
		return err
	}
	if len(buf)-frameHeaderSize > maxFrameSize {
		return fmt.Errorf("record of %d bytes exceeds frame limit", len(buf))
	}
	if _, err := s.file.WriteAt(buf, s.size); err != nil {
		s.rollbackLocked()
		return ioError("appending frame", err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			s.rollbackLocked()
			return ioError("syncing record log", err)
		}
	}
	s.size += int64(len(buf))
	return nil
}

func (s *LogStore) rollbackLocked() {
	if err := s.file.Truncate(s.size); err != nil {
		s.logger.Error("rolling back failed append", "offset", s.size, "error", err)
	}
}

func (s *LogStore) Put(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	rec.ModifiedAt = rec.ModifiedAt.UTC()
	rec.Seq = s.seq + 1
	if err := s.appendLocked(frame{Op: opPut, Seq: rec.Seq, Record: &rec}); err != nil {
		return Record{}, err
	}
	s.seq = rec.Seq
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *LogStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, notFound(id)
	}
	return rec, nil
}

func (s *LogStore) ListRecent(_ context.Context, since time.Time, limit int) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0)
	for _, rec := range s.records {
		if !rec.ModifiedAt.Before(since) {
			out = append(out, rec)
		}
	}
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	sortRecent(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LogStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return notFound(id)
	}
	seq := s.seq + 1
	if err := s.appendLocked(frame{Op: opDelete, Seq: seq, ID: id}); err != nil {
		return err
	}
	s.seq = seq
	delete(s.records, id)
	return nil
}

func (s *LogStore) Scan(ctx context.Context, fn func(Record) error) error {
	records, err := s.snapshot()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// snapshot copies the live records ordered by Seq.
func (s *LogStore) snapshot() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Compact rewrites the log with one frame per live record followed by a
// sequence mark, swaps it in atomically and reopens it.
func (s *LogStore) Compact(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	var buf bytes.Buffer
	buf.Write(encodeLogHeader())
	for i := range records {
		data, err := encodeFrame(frame{Op: opPut, Seq: records[i].Seq, Record: &records[i]})
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	mark, err := encodeFrame(frame{Op: opMark, Seq: s.seq})
	if err != nil {
		return err
	}
	buf.Write(mark)

	before := s.size
	if err := atomic.WriteFile(s.path, bytes.NewReader(buf.Bytes())); err != nil {
		return ioError("replacing record log", err)
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		s.file.Close()
		s.lock.release()
		s.closed = true
		return ioError("reopening compacted log", err)
	}
	s.file.Close()
	s.file = f
	s.size = int64(buf.Len())
	s.logger.Info("record log compacted",
		"records", len(records),
		"bytes_before", before,
		"bytes_after", s.size,
	)
	return nil
}

func (s *LogStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.records), nil
}

func (s *LogStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.Stat(); err != nil {
		return ioError("stat record log", err)
	}
	return nil
}

// Close syncs and closes the log. Closing twice is a no-op.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if err := errors.Join(syncErr, closeErr, s.lock.release()); err != nil {
		return ioError("closing record log", err)
	}
	return nil
}
