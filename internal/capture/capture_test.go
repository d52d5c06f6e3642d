package capture

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/pkg/batch"
	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/comotrace"
	"github.com/como-project/como/pkg/flowtable"
	"github.com/como-project/como/pkg/shmem"
	"github.com/como-project/como/pkg/sniffer"
)

// countingModule accumulates a byte/packet total across every delivered
// packet, mirroring the counter scenario of §8 scenario 1.
type countingModule struct{}

func (countingModule) Name() string               { return "counter" }
func (countingModule) CaptureRecordSize() int      { return 16 }
func (countingModule) ExportRecordSize() int       { return 16 }
func (countingModule) Init([]byte) error           { return nil }
func (countingModule) Hash(*comopkt.Packet) uint64 { return 1 }
func (countingModule) Match(_ *comopkt.Packet, _ []byte) bool { return true }
func (countingModule) Update(p *comopkt.Packet, record []byte, isNew bool) flowtable.UpdateOutcome {
	pkts := flowtable.GetUint64(record[0:8])
	bytes := flowtable.GetUint64(record[8:16])
	flowtable.PutUint64(record[0:8], pkts+1)
	flowtable.PutUint64(record[8:16], bytes+uint64(p.WireLen))
	return flowtable.UpdateOK
}
func (countingModule) Store(ex, buf []byte) int { copy(buf, ex); return len(ex) }
func (countingModule) Load(data []byte) ([]byte, int, error) {
	return append([]byte(nil), data[:16]...), 16, nil
}
func (countingModule) Print([]byte) string { return "" }
func (countingModule) Export(ex, x []byte, isNew bool) { copy(ex, x) }

// fixedSniffer hands back a fixed set of packets once, then idles.
type fixedSniffer struct {
	pkts    []comopkt.Packet
	emitted bool
}

func (f *fixedSniffer) Start(src *sniffer.Source) error {
	src.Mode = sniffer.ModeSelect
	return nil
}
func (f *fixedSniffer) Next(out []comopkt.Packet) (int, error) {
	if f.emitted {
		return 0, nil
	}
	f.emitted = true
	n := copy(out, f.pkts)
	return n, nil
}
func (f *fixedSniffer) Stop() error                             { return nil }
func (f *fixedSniffer) OutputMetadesc() comopkt.Metadesc        { return comopkt.Metadesc{} }
func (f *fixedSniffer) DroppedSinceLastCall() int               { return 0 }

func TestCaptureDeliversAndAccumulates(t *testing.T) {
	arena := shmem.NewArena(4096, false)
	table := flowtable.NewTable(countingModule{}, arena, 16)

	pkts := make([]comopkt.Packet, 10)
	for i := range pkts {
		pkts[i] = comopkt.Packet{WireLen: 800, TS: comopkt.NewTimestamp(int64(i)/5+1, 0)}
	}

	rt := sniffer.NewRuntime()
	if _, err := rt.Add(&fixedSniffer{pkts: pkts}, &sniffer.Source{Name: "eth0"}); err != nil {
		t.Fatalf("add sniffer: %v", err)
	}

	binding := &ModuleBinding{Module: countingModule{}, Table: table}

	var got []BatchReady
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	tracer, _ := comotrace.New(comotrace.Config{Enabled: false}, "capture", logger.WithField("t", true))

	c := New(Config{BatchMaxPackets: 1000, BatchInterval: time.Hour}, rt, []*ModuleBinding{binding}, tracer,
		logger.WithField("t", true), func(b BatchReady) { got = append(got, b) })

	c.tick()
	c.closeBatch()

	if len(got) != 1 {
		t.Fatalf("expected exactly one batch, got %d", len(got))
	}
	snap := got[0].Snapshots
	if len(snap) != 1 || len(snap[0].Entries) != 1 {
		t.Fatalf("expected one module snapshot with one flow record, got %+v", snap)
	}
	record := snap[0].Entries[0].Block.Bytes()
	if flowtable.GetUint64(record[0:8]) != 10 {
		t.Fatalf("expected pkts=10, got %d", flowtable.GetUint64(record[0:8]))
	}
	if flowtable.GetUint64(record[8:16]) != 8000 {
		t.Fatalf("expected bytes=8000, got %d", flowtable.GetUint64(record[8:16]))
	}
}

func TestCaptureRunClosesOnContextCancel(t *testing.T) {
	arena := shmem.NewArena(4096, false)
	table := flowtable.NewTable(countingModule{}, arena, 16)
	rt := sniffer.NewRuntime()
	binding := &ModuleBinding{Module: countingModule{}, Table: table}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	tracer, _ := comotrace.New(comotrace.Config{Enabled: false}, "capture", logger.WithField("t", true))

	closed := make(chan BatchReady, 1)
	c := New(Config{}, rt, []*ModuleBinding{binding}, tracer, logger.WithField("t", true), func(b BatchReady) {
		select {
		case closed <- b:
		default:
		}
	})
	c.pendingCount = 1 // force a pending batch so Run's shutdown path closes it

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func newTestCapture(t *testing.T, binding *ModuleBinding, onBatchReady func(BatchReady)) *Capture {
	t.Helper()
	rt := sniffer.NewRuntime()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	tracer, _ := comotrace.New(comotrace.Config{Enabled: false}, "capture", logger.WithField("t", true))
	if onBatchReady == nil {
		onBatchReady = func(BatchReady) {}
	}
	return New(Config{BatchMaxPackets: 1000, BatchInterval: time.Hour}, rt, []*ModuleBinding{binding}, tracer,
		logger.WithField("t", true), onBatchReady)
}

// TestCaptureDropsStalledRawClientUnderBackpressure grounds §8 scenario
// 4: two raw capture-client subscribers, one acking every batch
// promptly and one never acking. Expected: once the stalled client's
// share exceeds the threshold it is dropped (its bit cleared from
// every live batch still outstanding), and the pipeline — as far as
// the prompt client and batch reclamation are concerned — keeps moving.
func TestCaptureDropsStalledRawClientUnderBackpressure(t *testing.T) {
	arena := shmem.NewArena(4096, false)
	table := flowtable.NewTable(countingModule{}, arena, 16)
	c := newTestCapture(t, &ModuleBinding{Module: countingModule{}, Table: table}, nil)

	prompt := c.Subscribe()
	stalled := c.Subscribe()

	const rounds = rawClientBufSize + maxRawClientBacklog + 1
	for i := 0; i < rounds; i++ {
		c.closeBatch()
		select {
		case b := <-prompt.Batches():
			prompt.Ack(b)
		default:
			t.Fatalf("round %d: prompt client's channel unexpectedly had nothing to ack", i)
		}
	}

	c.mu.Lock()
	live := append([]*batch.Batch(nil), c.liveBatches...)
	stalledDropped := stalled.client.dropped
	c.mu.Unlock()

	if !stalledDropped {
		t.Fatal("expected the stalled client to have been dropped")
	}
	for _, b := range live {
		if mask := b.RefMask(); mask&(1<<uint(stalled.client.idx)) != 0 {
			t.Fatalf("expected the stalled client's bit cleared from every live batch, mask=%b", mask)
		}
	}
	if len(live) != 0 {
		t.Fatalf("expected no live batches left once the only non-dropped client acked everything, got %d", len(live))
	}
}

// TestCaptureSamplerGatesModuleDelivery grounds §4.5 "Sampling" and §8
// scenario 6: a module bound with a sampling rate only sees roughly a
// 1-in-rate share of delivered packets, not every one.
func TestCaptureSamplerGatesModuleDelivery(t *testing.T) {
	arena := shmem.NewArena(1<<20, false)
	table := flowtable.NewTable(countingModule{}, arena, 16)
	binding := &ModuleBinding{Module: countingModule{}, Table: table, Sampler: NewSampler(10, 7)}
	c := newTestCapture(t, binding, nil)

	for i := 0; i < 1000; i++ {
		pkt := &comopkt.Packet{WireLen: 1}
		c.deliver(pkt)
	}

	record := table.Records()
	var delivered uint64
	if len(record) == 1 {
		delivered = flowtable.GetUint64(record[0].Block.Bytes()[0:8])
	}
	if delivered < 40 || delivered > 200 {
		t.Fatalf("expected the sampler to gate delivery to roughly 1-in-10, got %d of 1000", delivered)
	}
}

func TestSamplerBoundsOverThousandPackets(t *testing.T) {
	s := NewSampler(10, 42)
	admitted := 0
	for i := 0; i < 1000; i++ {
		if s.Admit() {
			admitted++
		}
	}
	if admitted < 40 || admitted > 200 {
		t.Fatalf("expected admitted count in a generous band around 100, got %d", admitted)
	}
}
