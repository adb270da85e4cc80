package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// segmentExt is the filename suffix for every segment file.
const segmentExt = ".wal"

// segmentFilename builds "<prefix>_<first_seq_hex_16>.wal" (spec.md §6):
// the 16 hex digits encode firstSeq as a big-endian (i.e. naturally
// sortable) uint64.
func segmentFilename(prefix string, firstSeq uint64) string {
	return fmt.Sprintf("%s_%016x%s", prefix, firstSeq, segmentExt)
}

// parseSegmentFilename extracts firstSeq from a filename matching
// segmentFilename's shape for the given prefix. ok is false for any name
// that doesn't match (including files belonging to a different prefix).
func parseSegmentFilename(prefix, name string) (firstSeq uint64, ok bool) {
	want := prefix + "_"
	if !strings.HasPrefix(name, want) || !strings.HasSuffix(name, segmentExt) {
		return 0, false
	}
	hexPart := strings.TrimSuffix(strings.TrimPrefix(name, want), segmentExt)
	if len(hexPart) != 16 {
		return 0, false
	}
	seq, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// SegmentInfo describes one segment file on disk, as returned by
// SegmentStore.List (spec.md §4.2 iter_segments).
type SegmentInfo struct {
	FirstSeq uint64
	Path     string
}

// SegmentStore owns one directory of segment files (spec.md §4.2). It does
// not itself decide rotation policy — that is the WAL Writer's job — but it
// provides the primitives rotation needs: creating a new segment, listing
// existing ones in order, and removing retired ones.
type SegmentStore struct {
	dir    string
	prefix string
}

// OpenSegmentStore creates dir if necessary and returns a SegmentStore over
// it for the given file prefix.
func OpenSegmentStore(dir, prefix string) (*SegmentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: creating segment dir: %w", err)
	}
	return &SegmentStore{dir: dir, prefix: prefix}, nil
}

// CreateNew creates a brand new segment file starting at firstSeq and opens
// it for append. It is an error for the file to already exist: callers
// rotate into a fresh sequence number, never reopen a closed segment for
// write (spec.md §3: "closed and never reopened for write after rotation").
func (s *SegmentStore) CreateNew(firstSeq uint64) (*Segment, error) {
	path := filepath.Join(s.dir, segmentFilename(s.prefix, firstSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: creating segment %s: %w", path, err)
	}
	return &Segment{file: f, writer: bufio.NewWriterSize(f, 64*1024), firstSeq: firstSeq, path: path}, nil
}

// OpenExistingForAppend reopens the tail segment described by info for
// appending more records after it, truncating any torn bytes beyond
// validSize first. This is the only case where a segment is reopened for
// write: continuing the still-active segment across a process restart
// (spec.md §4.5 step 5).
func (s *SegmentStore) OpenExistingForAppend(info SegmentInfo, validSize int64) (*Segment, error) {
	if err := os.Truncate(info.Path, validSize); err != nil {
		return nil, fmt.Errorf("wal: truncating torn tail of %s: %w", info.Path, err)
	}
	f, err := os.OpenFile(info.Path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: reopening segment %s: %w", info.Path, err)
	}
	return &Segment{
		file: f, writer: bufio.NewWriterSize(f, 64*1024),
		firstSeq: info.FirstSeq, path: info.Path, size: validSize,
	}, nil
}

// List returns every segment belonging to this store's prefix, ordered
// ascending by FirstSeq (spec.md §4.2 iter_segments).
func (s *SegmentStore) List() ([]SegmentInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: listing segment dir: %w", err)
	}

	var out []SegmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSegmentFilename(s.prefix, e.Name())
		if !ok {
			continue
		}
		out = append(out, SegmentInfo{FirstSeq: seq, Path: filepath.Join(s.dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeq < out[j].FirstSeq })
	return out, nil
}

// DeleteBefore removes every segment whose records all precede keepFrom,
// i.e. whose successor's FirstSeq is at most keepFrom; the segment holding
// keepFrom and the last segment are kept. Callers must only call this after
// a checkpoint covering
// keepFrom has been flushed and fsynced (spec.md §3/§4.4).
func (s *SegmentStore) DeleteBefore(keepFrom uint64) error {
	segs, err := s.List()
	if err != nil {
		return err
	}
	// Never delete the segment that itself might contain keepFrom or a
	// record before it needed for context; only segments strictly below
	// the one containing keepFrom are eligible, and we keep at least one
	// segment so a store is never left with zero segments to append to.
	for i := 0; i < len(segs)-1; i++ {
		if segs[i+1].FirstSeq > keepFrom {
			break
		}
		if err := os.Remove(segs[i].Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: deleting retired segment %s: %w", segs[i].Path, err)
		}
	}
	return nil
}

// Segment is a write handle for one append-only segment file.
type Segment struct {
	mu sync.Mutex

	file     *os.File
	writer   *bufio.Writer
	path     string
	firstSeq uint64
	size     int64
	records  uint64
}

// Append writes record's bytes to the segment's buffer and returns the
// (pre-write) byte offset it was written at. Durability requires a
// subsequent Sync call (spec.md §4.2).
func (s *Segment) Append(record []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.size
	if _, err := s.writer.Write(record); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.size += int64(len(record))
	s.records++
	return offset, nil
}

// Sync flushes the userspace buffer and forces the OS to stable storage.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Size returns the number of bytes written to the segment so far
// (buffered or flushed).
func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// RecordCount returns the number of records appended so far.
func (s *Segment) RecordCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// FirstSeq returns the sequence number encoded in the segment's filename.
func (s *Segment) FirstSeq() uint64 { return s.firstSeq }

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// Close flushes and closes the underlying file. It does not delete it. A
// segment closed by rotation is never reopened for write (spec.md §3); only
// the tail segment is continued after a restart, via OpenExistingForAppend.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return s.file.Close()
}

// SegmentReader reads records sequentially from a closed or in-progress
// segment file (spec.md §4.2/§4.5). It reads the whole segment into memory
// up front and decodes from the buffer: segments are bounded by
// SegmentMaxBytes (64 MiB by default), and the buffer-oriented decode gives
// byte-exact offsets the Replay Engine needs to resynchronise after a
// corrupt record in the middle of a segment.
type SegmentReader struct {
	buf    []byte
	offset int64
}

// OpenSegmentReader reads info's file fully into memory for decoding.
func OpenSegmentReader(info SegmentInfo) (*SegmentReader, error) {
	buf, err := os.ReadFile(info.Path)
	if err != nil {
		return nil, fmt.Errorf("wal: reading segment %s: %w", info.Path, err)
	}
	return &SegmentReader{buf: buf}, nil
}

// ReadRecord decodes the next record and advances the offset past it. It
// returns ErrEndOfStream at a clean end of segment.
func (r *SegmentReader) ReadRecord() (Record, error) {
	res, err := decode(r.buf[r.offset:])
	if err != nil {
		return Record{}, err
	}
	r.offset += int64(res.consumed)
	return res.record, nil
}

// Offset reports the byte offset of the next undecoded record.
func (r *SegmentReader) Offset() int64 { return r.offset }

// Size reports the total number of bytes in the segment.
func (r *SegmentReader) Size() int64 { return int64(len(r.buf)) }

// Seek repositions the reader to decode starting at byte offset off.
// Used by the Replay Engine to resynchronise after a corrupt record by
// scanning forward for the next plausible header.
func (r *SegmentReader) Seek(off int64) { r.offset = off }

// Close is a no-op: the segment was read fully into memory up front.
func (r *SegmentReader) Close() error { return nil }
