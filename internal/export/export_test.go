package export

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/capture"
	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/flowtable"
	"github.com/como-project/como/pkg/shmem"
)

// sumModule merges capture-side pkts/bytes fields into the export-side
// record, one flow keyed by a constant hash — the export-half of the
// counter scenario (§8 scenario 1).
type sumModule struct{}

func (sumModule) Name() string               { return "sum" }
func (sumModule) CaptureRecordSize() int      { return 16 }
func (sumModule) ExportRecordSize() int       { return 16 }
func (sumModule) Init([]byte) error           { return nil }
func (sumModule) Hash(*comopkt.Packet) uint64 { return 7 }
func (sumModule) Match(_ *comopkt.Packet, _ []byte) bool { return true }
func (sumModule) Update(_ *comopkt.Packet, record []byte, isNew bool) flowtable.UpdateOutcome {
	return flowtable.UpdateOK
}
func (sumModule) Store(ex, buf []byte) int {
	copy(buf, ex)
	return 16
}
func (sumModule) Load(data []byte) ([]byte, int, error) {
	return append([]byte(nil), data[:16]...), 16, nil
}
func (sumModule) Print([]byte) string { return "" }
func (sumModule) Export(ex, x []byte, isNew bool) {
	flowtable.PutUint64(ex[0:8], flowtable.GetUint64(ex[0:8])+flowtable.GetUint64(x[0:8]))
	flowtable.PutUint64(ex[8:16], flowtable.GetUint64(ex[8:16])+flowtable.GetUint64(x[8:16]))
}

type memWriter struct {
	mu      sync.Mutex
	streams map[string][][]byte
}

func newMemWriter() *memWriter { return &memWriter{streams: make(map[string][][]byte)} }

func (w *memWriter) Append(stream string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := append([]byte(nil), data...)
	w.streams[stream] = append(w.streams[stream], cp)
	return nil
}

func TestExportMergesCaptureRecordsAndStores(t *testing.T) {
	arena := shmem.NewArena(4096, false)
	capTable := flowtable.NewTable(sumModule{}, arena, 16)

	pkt := &comopkt.Packet{}
	record, isNew, err := capTable.Lookup(pkt)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	flowtable.PutUint64(record[0:8], 10)
	flowtable.PutUint64(record[8:16], 8000)
	sumModule{}.Update(pkt, record, isNew)

	entries, tracker := capTable.Snapshot()
	batch := capture.BatchReady{
		Seq: 1,
		Snapshots: []capture.Snapshot{
			{Module: sumModule{}, Entries: entries, Tracker: tracker},
		},
	}

	writer := newMemWriter()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ex := New([]flowtable.Module{sumModule{}}, 4096, writer, logger.WithField("t", true))
	ex.Consume(batch)

	stored := writer.streams["sum"]
	if len(stored) != 1 {
		t.Fatalf("expected one stored record, got %d", len(stored))
	}
	if flowtable.GetUint64(stored[0][0:8]) != 10 || flowtable.GetUint64(stored[0][8:16]) != 8000 {
		t.Fatalf("expected pkts=10 bytes=8000, got %v", stored[0])
	}
}
