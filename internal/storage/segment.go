// Package storage implements the Storage process (§4.7): an
// append-only stream of size-rotated segments per module, with writer
// uniqueness, offset-addressed reads, and a segment-footer checksum
// used to recover a truncated trailing segment.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/como-project/como/pkg/comoerr"
)

// footerMagic marks a sealed segment's trailer so recovery can tell a
// cleanly closed segment from a process that died mid-write.
const footerMagic = 0x434f4d4f5345474d // "COMOSEGM" folded to 8 bytes

// footerSize is the length of the trailer appended to a segment once
// it reaches its size cap: magic(8) + xxhash checksum(8) + count(4).
const footerSize = 8 + 8 + 4

// segment is one rotation unit of a stream: an append-only file plus
// its in-memory write cursor.
type segment struct {
	path   string
	file   *os.File
	size   int64
	maxSz  int64
	count  uint32
	hasher *xxhash.Digest
	sealed bool
}

func openSegment(path string, maxSz int64) (*segment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "openSegment", err, comoerr.SeverityFatal)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "openSegment", err, comoerr.SeverityFatal)
	}
	return &segment{path: path, file: f, size: info.Size(), maxSz: maxSz, hasher: xxhash.New()}, nil
}

// append writes one length-prefixed record; the caller holds the
// stream-level write lock so concurrent appends cannot interleave.
func (s *segment) append(record []byte) (offset int64, err error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(record)))

	offset = s.size
	if _, err := s.file.Write(hdr[:]); err != nil {
		return 0, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "append", err, comoerr.SeverityTransient)
	}
	if _, err := s.file.Write(record); err != nil {
		return 0, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "append", err, comoerr.SeverityTransient)
	}
	s.hasher.Write(hdr[:])
	s.hasher.Write(record)
	s.size += int64(len(hdr) + len(record))
	s.count++
	return offset, nil
}

// full reports whether this segment has reached its rotation size.
func (s *segment) full() bool { return s.size >= s.maxSz }

// seal writes the trailing footer and marks the segment read-only for
// further appends, triggering rotation to a fresh segment.
func (s *segment) seal() error {
	var buf [footerSize]byte
	binary.BigEndian.PutUint64(buf[0:8], footerMagic)
	binary.BigEndian.PutUint64(buf[8:16], s.hasher.Sum64())
	binary.BigEndian.PutUint32(buf[16:20], s.count)
	if _, err := s.file.Write(buf[:]); err != nil {
		return comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "seal", err, comoerr.SeverityTransient)
	}
	s.sealed = true
	return nil
}

func (s *segment) close() error { return s.file.Close() }

// segmentPath builds the on-disk path for a stream's Nth segment.
func segmentPath(baseDir, stream string, n int) string {
	return filepath.Join(baseDir, stream, fmt.Sprintf("seg-%08d.como", n))
}

// streamDir is the per-stream subdirectory under the storage basedir.
func streamDir(baseDir, stream string) string {
	return filepath.Join(baseDir, stream)
}

// recoverTrailingSegment checks whether path's trailing bytes are a
// valid footer; if not (process died mid-write), it truncates the file
// back to the last record boundary it can verify, satisfying the
// stream append-only property without losing earlier, confirmed bytes.
func recoverTrailingSegment(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "recover", err, comoerr.SeverityFatal)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "recover", err, comoerr.SeverityFatal)
	}
	if info.Size() < footerSize {
		return nil // too small to have ever sealed; leave as-is
	}

	buf := make([]byte, footerSize)
	if _, err := f.ReadAt(buf, info.Size()-footerSize); err != nil {
		return comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "recover", err, comoerr.SeverityFatal)
	}
	magic := binary.BigEndian.Uint64(buf[0:8])
	if magic == footerMagic {
		return nil // cleanly sealed
	}

	// Not sealed: replay records from the front, keeping only complete
	// ones, and truncate the rest (a torn write from a crashed process).
	validEnd, err := scanValidPrefix(f, info.Size())
	if err != nil {
		return err
	}
	if validEnd < info.Size() {
		return f.Truncate(validEnd)
	}
	return nil
}

func scanValidPrefix(f *os.File, size int64) (int64, error) {
	var off int64
	var hdr [4]byte
	for off+4 <= size {
		if _, err := f.ReadAt(hdr[:], off); err != nil {
			return off, nil
		}
		n := int64(binary.BigEndian.Uint32(hdr[:]))
		if n < 0 || off+4+n > size {
			return off, nil
		}
		off += 4 + n
	}
	return off, nil
}
