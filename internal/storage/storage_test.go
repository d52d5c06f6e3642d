package storage

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/config"
	"github.com/como-project/como/pkg/comoerr"
)

func newTestStorage(t *testing.T, segmentSize int64) *Storage {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s, err := New(config.StorageConfig{
		BaseDir:          t.TempDir(),
		SegmentSizeBytes: segmentSize,
	}, logger.WithField("t", true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// TestSegmentRotationAndSeek grounds §8 scenario 3: 1KB segments, ten
// 200-byte records, and a seek at offset 1050 — the literal offset the
// scenario names, which falls inside a record's span rather than on a
// boundary.
func TestSegmentRotationAndSeek(t *testing.T) {
	s := newTestStorage(t, 1024)

	records := make([][]byte, 10)
	for i := range records {
		rec := make([]byte, 200)
		for j := range rec {
			rec[j] = byte(i)
		}
		records[i] = rec
		if err := s.Append("flows", rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	count, err := s.Inform("flows")
	if err != nil {
		t.Fatalf("inform: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 segments (1KB cap / 204-byte records), got %d", count)
	}

	// Each record occupies 204 bytes on disk (4-byte length prefix +
	// 200-byte payload). Rotation is checked before each append, so
	// segment 0 keeps growing past the 1024 cap until the write that
	// would start past it: records 0-5 (6 records, 1224 bytes) land in
	// segment 0, records 6-9 land in segment 1. Offset 1050 lands
	// inside record 5's span [1020, 1224) within segment 0 — record 5
	// is the nearest record whose start is before 1050, but SEEK only
	// ever returns a record starting at or after the requested offset,
	// and segment 0 has no record starting in [1050, 1224): NODATA.
	_, err = s.Read("flows", 0, 1050)
	if err == nil {
		t.Fatal("expected NODATA reading segment 0 past its last record start")
	}
	if !comoerr.IsNoData(err) {
		t.Fatalf("expected a NODATA error, got %v", err)
	}

	// A seek that does land before a record's start finds that record.
	data, err := s.Read("flows", 0, 1000)
	if err != nil {
		t.Fatalf("read segment 0 offset 1000: %v", err)
	}
	if data[0] != 5 {
		t.Fatalf("expected record index 5 at segment 0 offset 1000, got marker %d", data[0])
	}

	data, err = s.Read("flows", 1, 0)
	if err != nil {
		t.Fatalf("read segment 1 offset 0: %v", err)
	}
	if data[0] != 6 {
		t.Fatalf("expected first record of segment 1 to be original record index 6, got marker %d", data[0])
	}
}

func TestWriterUniquenessRejectsConcurrentOpen(t *testing.T) {
	s := newTestStorage(t, 1<<20)
	st, err := s.stream("flows")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := st.acquireWriter(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := st.acquireWriter(); err == nil {
		t.Fatal("expected second acquireWriter to fail while the first writer holds the stream")
	}
	st.releaseWriter()
	if err := st.acquireWriter(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestAppendIsOrderPreservingWithinASegment(t *testing.T) {
	s := newTestStorage(t, 1<<20)
	for i := 0; i < 5; i++ {
		if err := s.Append("order", []byte{byte(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	off := int64(0)
	for i := 0; i < 5; i++ {
		data, err := s.Read("order", 0, off)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if data[0] != byte(i) {
			t.Fatalf("record %d: expected marker %d, got %d", i, i, data[0])
		}
		off += 4 + int64(len(data))
	}
}
