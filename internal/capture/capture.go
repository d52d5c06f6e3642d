// Package capture implements the Capture process's main loop (§4.5):
// drain sniffers, classify/filter packets into module flow tables,
// close batches on size/interval/flush triggers, and hand snapshots off
// to Export and any other subscribed capture client.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/comometrics"
	"github.com/como-project/como/pkg/batch"
	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/comotrace"
	"github.com/como-project/como/pkg/flowtable"
	"github.com/como-project/como/pkg/shmem"
	"github.com/como-project/como/pkg/sniffer"
)

// rawClientBufSize bounds how many unacked batches a raw-packet
// subscriber may hold before its channel stops accepting new ones.
const rawClientBufSize = 8

// maxRawClientBacklog is the consecutive-stall threshold of §4.5's
// backpressure policy: a client whose channel is still full on more than
// this many dispatches in a row has its subscription dropped rather than
// stalling reclamation for every other client (§8 scenario 4).
const maxRawClientBacklog = 3

// ModuleBinding pairs a registered module with its negotiated filter
// and flow table (§4.5 steps 2-3).
type ModuleBinding struct {
	Module flowtable.Module
	Filter comopkt.Filter
	Table  *flowtable.Table

	// Sampler, when set, gates this module's packet admission to a
	// uniform 1-in-rate draw per packet (§4.5 "Sampling", §8 scenario
	// 6). Nil admits every packet.
	Sampler *Sampler

	// FlushInterval, when positive, is this module's flush_ivl: once
	// it elapses since the module's last flush, the module requests an
	// immediate batch close regardless of the size/wall-clock triggers
	// (§4.5 step 4 trigger (c)).
	FlushInterval time.Duration
	lastFlush     time.Time

	status flowtable.Status
}

// Snapshot is one module's detached flow table, ready for Export.
type Snapshot struct {
	Module  flowtable.Module
	Entries []*flowtable.Entry
	Tracker *shmem.Tracker
}

// BatchReady is what Capture hands off to Export at batch close (§4.5
// step 5): the closing sequence number and every module's snapshot.
type BatchReady struct {
	Seq       uint64
	ClosedAt  comopkt.Timestamp
	Snapshots []Snapshot
}

// Config bounds a Capture run.
type Config struct {
	BatchMaxPackets int
	BatchInterval   time.Duration
}

// rawClient is one subscriber to Capture's raw packet/batch stream
// (§3, §4.5 step 4), distinct from a flow-table module: it receives
// the batch.Batch itself rather than a per-module snapshot.
type rawClient struct {
	idx     int
	ch      chan *batch.Batch
	backlog int
	dropped bool
}

// Subscription is a raw-packet capture client's handle onto Capture's
// batch stream.
type Subscription struct {
	capture *Capture
	client  *rawClient
}

// Batches yields every batch Capture closes from the point of
// subscription onward. A batch not drained promptly counts against
// this subscriber's backpressure share (§4.5).
func (s *Subscription) Batches() <-chan *batch.Batch { return s.client.ch }

// Ack acknowledges b, clearing this client's bit from its reference
// mask (§3) and crediting back any backlog charged against it.
func (s *Subscription) Ack(b *batch.Batch) {
	b.Ack(s.client.idx)
	s.capture.mu.Lock()
	if s.client.backlog > 0 {
		s.client.backlog--
	}
	s.capture.mu.Unlock()
	s.capture.reclaimBatches()
}

// Capture owns the sniffer runtime, the registered modules' flow
// tables, and batch sequencing.
type Capture struct {
	cfg     Config
	rt      *sniffer.Runtime
	modules []*ModuleBinding
	tracer  *comotrace.Provider
	logger  *logrus.Entry

	seq          uint64
	pendingCount int
	lastBatchAt  time.Time
	pendingPkts  []*comopkt.Packet

	mu          sync.Mutex
	rawClients  []*rawClient
	liveBatches []*batch.Batch

	onBatchReady func(BatchReady)
}

// New builds a Capture loop. onBatchReady is called synchronously from
// Run's goroutine whenever a batch closes; the caller (Export's ipcbus
// peer) is expected to return quickly or hand off to its own queue.
func New(cfg Config, rt *sniffer.Runtime, modules []*ModuleBinding, tracer *comotrace.Provider, logger *logrus.Entry, onBatchReady func(BatchReady)) *Capture {
	if cfg.BatchMaxPackets == 0 {
		cfg.BatchMaxPackets = 4096
	}
	if cfg.BatchInterval == 0 {
		cfg.BatchInterval = time.Second
	}
	now := time.Now()
	for _, m := range modules {
		m.status = flowtable.StatusActive
		m.lastFlush = now
	}
	return &Capture{cfg: cfg, rt: rt, modules: modules, tracer: tracer, logger: logger, onBatchReady: onBatchReady, lastBatchAt: now}
}

// Subscribe registers a new raw-packet capture client alongside Export
// (§4.5 step 4): it receives every batch Capture closes from here on,
// and must Ack each one or risk being dropped under backpressure (§8
// scenario 4).
func (c *Capture) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc := &rawClient{idx: len(c.rawClients) + 1, ch: make(chan *batch.Batch, rawClientBufSize)}
	c.rawClients = append(c.rawClients, rc)
	return &Subscription{capture: c, client: rc}
}

// Run drives the capture loop until ctx is cancelled, closing any
// partial batch on the way out.
func (c *Capture) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeBatch()
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Capture) tick() {
	ctx, span := c.tracer.StartCaptureTick(context.Background())
	defer comotrace.EndWithError(span, nil)
	_ = ctx

	now := time.Now()
	buf := make([]comopkt.Packet, 64)
	for _, reg := range c.rt.Ready(now) {
		for {
			n, err := reg.Sniffer.Next(buf)
			if n < 0 {
				c.rt.Remove(reg.ID)
				break
			}
			if err != nil {
				comometrics.PacketsDroppedTotal.WithLabelValues("corrupt").Inc()
				break
			}
			if n == 0 {
				break // would-block: transient, try again next tick
			}
			reg.Packets += uint64(n)
			reg.Drops += uint64(reg.Sniffer.DroppedSinceLastCall())
			for i := 0; i < n; i++ {
				pkt := &buf[i]
				comopkt.ParseLayers(pkt)
				reg.LastTS = pkt.TS
				reg.Bytes += uint64(pkt.WireLen)
				c.deliver(pkt)
			}
			if n < len(buf) {
				break // drained this source for the tick
			}
		}
	}

	if c.pendingCount >= c.cfg.BatchMaxPackets || now.Sub(c.lastBatchAt) >= c.cfg.BatchInterval || c.anyModuleWantsFlush(now) {
		if c.pendingCount > 0 {
			c.closeBatch()
		}
	}
}

// anyModuleWantsFlush implements trigger (c) of §4.5 step 4: any
// module whose flush_ivl has elapsed since its last flush asks for an
// immediate batch close, independent of the size/wall-clock triggers.
func (c *Capture) anyModuleWantsFlush(now time.Time) bool {
	for _, m := range c.modules {
		if m.FlushInterval > 0 && now.Sub(m.lastFlush) >= m.FlushInterval {
			return true
		}
	}
	return false
}

func (c *Capture) deliver(pkt *comopkt.Packet) {
	c.pendingCount++

	c.mu.Lock()
	trackRaw := len(c.rawClients) > 0
	c.mu.Unlock()
	if trackRaw {
		cp := *pkt
		c.pendingPkts = append(c.pendingPkts, &cp)
	}

	for _, m := range c.modules {
		if m.status == flowtable.StatusDisabled {
			continue
		}
		if m.Sampler != nil && !m.Sampler.Admit() {
			continue
		}
		if m.Filter != nil && !m.Filter.Match(pkt) {
			continue
		}
		if chk, ok := m.Module.(flowtable.Checker); ok && !chk.Check(pkt) {
			continue
		}

		record, isNew, err := m.Table.Lookup(pkt)
		if err != nil {
			comometrics.PacketsDroppedTotal.WithLabelValues("capacity").Inc()
			continue
		}

		outcome := m.Module.Update(pkt, record, isNew)
		comometrics.PacketsDeliveredTotal.WithLabelValues(m.Module.Name()).Inc()

		if outcome == flowtable.UpdateFull {
			c.closeBatch()
		}
	}
}

func (c *Capture) closeBatch() {
	snapshots := make([]Snapshot, 0, len(c.modules))
	for _, m := range c.modules {
		entries, tracker := m.Table.Snapshot()
		if len(entries) == 0 {
			continue
		}
		snapshots = append(snapshots, Snapshot{Module: m.Module, Entries: entries, Tracker: tracker})
	}

	c.seq++
	seq := c.seq
	closedAt := nowTimestamp()
	comometrics.BatchesClosedTotal.Inc()
	c.pendingCount = 0
	c.lastBatchAt = time.Now()
	for _, m := range c.modules {
		m.lastFlush = c.lastBatchAt
	}

	pkts := c.pendingPkts
	c.pendingPkts = nil

	if c.onBatchReady != nil {
		c.onBatchReady(BatchReady{Seq: seq, ClosedAt: closedAt, Snapshots: snapshots})
	}

	c.dispatchRawBatch(seq, pkts)
}

// dispatchRawBatch hands the just-closed batch's raw packets to every
// subscribed raw client (§3, §4.5 step 4, §8 batch ref-count property).
// Bit 0 of the batch's reference mask is Export's slot: Export's
// handoff above is a synchronous call that has already returned, so
// its bit is acked immediately rather than held open. A client whose
// channel is still full from a prior batch hasn't drained it; that
// stall is charged to the client's backlog, and once the backlog
// exceeds the threshold the client is dropped rather than stalling
// reclamation for everyone else (§8 scenario 4).
func (c *Capture) dispatchRawBatch(seq uint64, pkts []*comopkt.Packet) {
	c.mu.Lock()
	if len(c.rawClients) == 0 {
		c.mu.Unlock()
		return
	}

	b := batch.New(seq, pkts, nil, len(c.rawClients)+1)
	b.Ack(0)

	for _, rc := range c.rawClients {
		if rc.dropped {
			b.Drop(rc.idx)
			continue
		}
		select {
		case rc.ch <- b:
			rc.backlog = 0
		default:
			rc.backlog++
			if rc.backlog > maxRawClientBacklog {
				rc.dropped = true
				// Clear this client's bit from every batch it's still
				// holding open, not just this one and future ones —
				// it will never ack what it already has queued either.
				for _, live := range c.liveBatches {
					live.Drop(rc.idx)
				}
				comometrics.PacketsDroppedTotal.WithLabelValues("backpressure").Inc()
			}
			b.Drop(rc.idx)
		}
	}
	c.liveBatches = append(c.liveBatches, b)
	c.mu.Unlock()

	c.reclaimBatches()
}

// reclaimBatches drops every batch every subscriber has acked or been
// dropped from off the live list (§3 invariant: no batch is reclaimed
// before ack-count == popcount(ref_mask)).
func (c *Capture) reclaimBatches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.liveBatches[:0]
	for _, b := range c.liveBatches {
		if !b.Reclaimable() {
			kept = append(kept, b)
		}
	}
	c.liveBatches = kept
}

func nowTimestamp() comopkt.Timestamp {
	now := time.Now()
	return comopkt.NewTimestamp(now.Unix(), int64(now.Nanosecond()))
}

// DisableModule flips a module to disabled after a per-module error
// (§7: "per-module errors flip the module to disabled, removing it
// from future packet delivery but keeping its state around for query").
func (c *Capture) DisableModule(name string) {
	for _, m := range c.modules {
		if m.Module.Name() == name {
			m.status = flowtable.StatusDisabled
			comometrics.ModulesDisabledTotal.WithLabelValues(name).Inc()
		}
	}
}
