package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/como-project/como/pkg/comoerr"
)

// stream is one module's append-only record log: a sequence of
// rotated segments under streamDir(baseDir, name). Only one writer may
// hold a stream open at a time (§4.7 writer uniqueness).
type stream struct {
	name     string
	baseDir  string
	maxSz    int64
	mu       sync.Mutex
	cur      *segment
	curIndex int
	sealedN  int // count of sealed segments preceding cur
	writer   bool
}

func openStream(baseDir, name string, maxSegmentBytes int64) (*stream, error) {
	dir := streamDir(baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "openStream", err, comoerr.SeverityFatal)
	}

	s := &stream{name: name, baseDir: baseDir, maxSz: maxSegmentBytes}

	idx, err := s.latestSegmentIndex()
	if err != nil {
		return nil, err
	}
	path := segmentPath(baseDir, name, idx)
	if err := recoverTrailingSegment(path); err != nil {
		return nil, err
	}
	seg, err := openSegment(path, maxSegmentBytes)
	if err != nil {
		return nil, err
	}
	s.cur = seg
	s.curIndex = idx
	s.sealedN = idx
	return s, nil
}

// latestSegmentIndex scans the stream directory for the highest
// existing segment number, defaulting to 0 for a brand-new stream.
func (s *stream) latestSegmentIndex() (int, error) {
	dir := streamDir(s.baseDir, s.name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "latestSegmentIndex", err, comoerr.SeverityFatal)
	}
	max := 0
	found := false
	for _, e := range entries {
		n, ok := parseSegmentIndex(e.Name())
		if !ok {
			continue
		}
		if !found || n > max {
			max, found = n, true
		}
	}
	return max, nil
}

// acquireWriter enforces the single-writer-per-stream invariant (§8
// "writer uniqueness"): only one OPEN(write) may be outstanding.
func (s *stream) acquireWriter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer {
		return comoerr.New(comoerr.CodeStreamWriterBusy, "storage", "acquireWriter",
			"stream "+s.name+" already has an open writer", comoerr.SeverityProtocol)
	}
	s.writer = true
	return nil
}

func (s *stream) releaseWriter() {
	s.mu.Lock()
	s.writer = false
	s.mu.Unlock()
}

// Append writes one record, rotating to a fresh segment first if the
// current one has reached its size cap. Implements export.Writer.
func (s *stream) Append(data []byte) (segmentIndex int, offset int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.full() {
		if err := s.cur.seal(); err != nil {
			return 0, 0, err
		}
		if err := s.cur.close(); err != nil {
			return 0, 0, err
		}
		s.curIndex++
		seg, err := openSegment(segmentPath(s.baseDir, s.name, s.curIndex), s.maxSz)
		if err != nil {
			return 0, 0, err
		}
		s.cur = seg
	}

	off, err := s.cur.append(data)
	if err != nil {
		return 0, 0, err
	}
	return s.curIndex, off, nil
}

// Seek implements the REGION/SEEK verb pair (§4.7): a requested offset
// need not land on a record boundary, so it scans forward from the
// start of the segment and returns the first record whose offset is >=
// the one requested, or CodeStreamNoData if the segment holds nothing
// at or past it. Records are only ever found by walking their length
// prefixes in order, since a record's start cannot be computed from an
// arbitrary byte offset without knowing every earlier record's length.
func (s *stream) Seek(segmentIndex int, offset int64) ([]byte, error) {
	path := segmentPath(s.baseDir, s.name, segmentIndex)
	f, err := os.Open(path)
	if err != nil {
		return nil, comoerr.Wrap(comoerr.CodeStreamBadOffset, "storage", "Seek", err, comoerr.SeverityProtocol)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, comoerr.Wrap(comoerr.CodeStreamBadOffset, "storage", "Seek", err, comoerr.SeverityProtocol)
	}
	size := info.Size()
	if size >= footerSize {
		var tail [footerSize]byte
		if _, err := f.ReadAt(tail[:], size-footerSize); err == nil && binary.BigEndian.Uint64(tail[0:8]) == footerMagic {
			size -= footerSize // sealed: the trailer isn't a record
		}
	}

	var cur int64
	var hdr [4]byte
	for cur+4 <= size {
		if _, err := f.ReadAt(hdr[:], cur); err != nil {
			return nil, comoerr.Wrap(comoerr.CodeStreamBadOffset, "storage", "Seek", err, comoerr.SeverityProtocol)
		}
		n := int64(binary.BigEndian.Uint32(hdr[:]))
		if n < 0 || cur+4+n > size {
			break // torn trailing record, same as end of valid data
		}
		if cur >= offset {
			buf := make([]byte, n)
			if _, err := f.ReadAt(buf, cur+4); err != nil {
				return nil, comoerr.Wrap(comoerr.CodeStreamBadOffset, "storage", "Seek", err, comoerr.SeverityProtocol)
			}
			return buf, nil
		}
		cur += 4 + n
	}
	return nil, comoerr.New(comoerr.CodeStreamNoData, "storage", "Seek",
		fmt.Sprintf("no record at or after offset %d in segment %d", offset, segmentIndex), comoerr.SeverityProtocol)
}

// SegmentCount reports how many segments (sealed + current) exist,
// used by tests and by INFORM responses.
func (s *stream) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curIndex + 1
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.close()
}

func parseSegmentIndex(name string) (int, bool) {
	const prefix, suffix = "seg-", ".como"
	if len(name) != len(prefix)+8+len(suffix) {
		return 0, false
	}
	if name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return 0, false
	}
	digits := name[len(prefix) : len(name)-len(suffix)]
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
