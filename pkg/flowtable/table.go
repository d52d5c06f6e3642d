package flowtable

import (
	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/shmem"
)

// Entry is one flow record plus the block backing its storage.
type Entry struct {
	Hash  uint64
	Block shmem.Block
}

// Table is a module's flow-table: a hash map keyed by Module.Hash with
// bucket collisions resolved by Module.Match (§3, §4.5 step 3). Records
// are allocated from a per-module Tracker using the HoldInUse policy so
// the whole generation can be bulk-freed on flush/discard.
type Table struct {
	module     Module
	arena      *shmem.Arena
	tracker    *shmem.Tracker
	recordSize int
	buckets    map[uint64][]*Entry
	count      int
}

// NewTable creates an empty flow table for module, allocating records
// from arena via a dedicated HoldInUse tracker.
func NewTable(module Module, arena *shmem.Arena, recordSize int) *Table {
	return &Table{
		module:     module,
		arena:      arena,
		tracker:    shmem.NewTracker(arena, shmem.HoldInUse, recordSize),
		recordSize: recordSize,
		buckets:    make(map[uint64][]*Entry),
	}
}

// Lookup finds or creates the record for packet p, returning its bytes
// and whether it was freshly allocated (§4.5 step 3: "compute hash,
// look up in module's table, call match for bucket collisions").
func (t *Table) Lookup(p *comopkt.Packet) (record []byte, isNew bool, err error) {
	h := t.module.Hash(p)
	for _, e := range t.buckets[h] {
		if t.module.Match(p, e.Block.Bytes()) {
			return e.Block.Bytes(), false, nil
		}
	}
	blk, err := t.tracker.Alloc(t.recordSize)
	if err != nil {
		return nil, false, err
	}
	b := blk.Bytes()
	for i := range b {
		b[i] = 0
	}
	e := &Entry{Hash: h, Block: blk}
	t.buckets[h] = append(t.buckets[h], e)
	t.count++
	return b, true, nil
}

// Count returns the number of live records in the table.
func (t *Table) Count() int { return t.count }

// Records returns every record currently in the table, in no particular
// order (bucket iteration order), alongside its hash.
func (t *Table) Records() []*Entry {
	out := make([]*Entry, 0, t.count)
	for _, bucket := range t.buckets {
		out = append(out, bucket...)
	}
	return out
}

// Snapshot detaches the table's contents for handoff to Export and
// resets this Table to empty with a fresh tracker, as in §4.5 step 5
// ("snapshots each module's flow table, detaches it ... allocates a
// fresh empty table"). The caller owns releasing the returned Tracker
// once Export has consumed every record (§4.6 step 3).
func (t *Table) Snapshot() (entries []*Entry, tracker *shmem.Tracker) {
	entries = t.Records()
	tracker = t.tracker
	t.tracker = shmem.NewTracker(t.arena, shmem.HoldInUse, t.recordSize)
	t.buckets = make(map[uint64][]*Entry)
	t.count = 0
	return entries, tracker
}
