// Package batch implements the Capture→Export handoff unit (§3, §4.5
// step 4) and its reference-counted reclamation.
package batch

import (
	"sync"

	"github.com/como-project/como/pkg/comopkt"
)

// Batch is a contiguous handoff of packets from Capture to Export. The
// two packet-pointer arrays (Pkts0/Pkts1) support wrap-around in the
// capture ring: Pkts1 is only non-empty when a batch's packets wrapped
// past the end of the ring buffer mid-batch.
type Batch struct {
	Seq     uint64
	Pkts0   []*comopkt.Packet
	Pkts1   []*comopkt.Packet
	LastTS  comopkt.Timestamp

	mu       sync.Mutex
	refMask  uint64 // one bit per subscribed capture-client
	acked    uint64

	// FirstRefPacket/ResourceUsage are the per-sniffer backpressure
	// bookkeeping fields of §3: the index of the first packet a given
	// client still references, and that client's share of this batch's
	// resource usage, consulted by Capture's backpressure charge.
	FirstRefPacket map[int]int
	ResourceUsage  map[int]float64
}

// New creates a batch carrying the given packet slices, with refMask
// set to subscribers (one bit per client index in subscriberCount).
func New(seq uint64, pkts0, pkts1 []*comopkt.Packet, subscriberCount int) *Batch {
	var mask uint64
	for i := 0; i < subscriberCount; i++ {
		mask |= 1 << uint(i)
	}
	last := comopkt.Timestamp(0)
	if n := len(pkts1); n > 0 {
		last = pkts1[n-1].TS
	} else if n := len(pkts0); n > 0 {
		last = pkts0[n-1].TS
	}
	return &Batch{
		Seq:            seq,
		Pkts0:          pkts0,
		Pkts1:          pkts1,
		LastTS:         last,
		refMask:        mask,
		FirstRefPacket: make(map[int]int),
		ResourceUsage:  make(map[int]float64),
	}
}

// Count is the total number of packets in the batch.
func (b *Batch) Count() int { return len(b.Pkts0) + len(b.Pkts1) }

// Ack clears client's bit in the reference mask. Once the mask is zero
// every subscriber has acknowledged the batch and its packet storage
// may be reclaimed (§3 invariant, §8 batch ref-count property).
func (b *Batch) Ack(clientIdx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refMask &^= 1 << uint(clientIdx)
	b.acked |= 1 << uint(clientIdx)
}

// Drop forcibly clears client's bit without counting it as a clean ack
// — used by Capture's backpressure policy (§4.5) to shed a client that
// fell too far behind rather than stalling reclamation for everyone.
func (b *Batch) Drop(clientIdx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refMask &^= 1 << uint(clientIdx)
}

// Reclaimable reports whether every subscribed client has acked or been
// dropped (refMask == 0).
func (b *Batch) Reclaimable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refMask == 0
}

// RefMask returns the current outstanding-reference bitmask, exposed
// for the §8 testable property that ack_batch-count == popcount(mask).
func (b *Batch) RefMask() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refMask
}
