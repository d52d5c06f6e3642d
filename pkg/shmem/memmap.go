package shmem

import "sync"

// Policy selects how a Tracker manages the blocks it hands out.
type Policy int

const (
	// HoldInUse records every outstanding block so the owner can
	// bulk-free them all at once — used for per-batch and per-flush
	// scopes in Capture.
	HoldInUse Policy = iota
	// HoldFree keeps a pool of already-freed same-size blocks for
	// reuse — used by module record allocators to avoid fragmenting
	// the arena with constant alloc/free of fixed-size records.
	HoldFree
)

// Tracker is the per-owner allocation layer above Arena described in
// §4.1 as "memmap": it does not replace the arena's free list, it adds
// bookkeeping scoped to one owner (a module, or one batch/flush cycle).
type Tracker struct {
	arena  *Arena
	policy Policy

	mu    sync.Mutex
	owned map[int]Block // HoldInUse: every outstanding block by offset
	pool  []Block        // HoldFree: reusable same-size blocks
	size  int            // HoldFree: the fixed block size this tracker pools
}

// NewTracker creates a Tracker over arena with the given policy. size is
// only meaningful for HoldFree trackers (the fixed record size).
func NewTracker(arena *Arena, policy Policy, size int) *Tracker {
	t := &Tracker{arena: arena, policy: policy, size: size}
	if policy == HoldInUse {
		t.owned = make(map[int]Block)
	}
	return t
}

// Alloc hands out a block according to policy: HoldFree trackers first
// try the reuse pool before falling through to the arena; HoldInUse
// trackers always allocate fresh and record the block for bulk free.
func (t *Tracker) Alloc(size int) (Block, error) {
	t.mu.Lock()
	if t.policy == HoldFree {
		if n := len(t.pool); n > 0 {
			b := t.pool[n-1]
			t.pool = t.pool[:n-1]
			t.mu.Unlock()
			return b, nil
		}
	}
	t.mu.Unlock()

	b, err := t.arena.Alloc(size)
	if err != nil {
		return Block{}, err
	}
	if t.policy == HoldInUse {
		t.mu.Lock()
		t.owned[b.Offset] = b
		t.mu.Unlock()
	}
	return b, nil
}

// Free returns a single block. HoldFree trackers pool it for reuse
// instead of returning it to the arena; HoldInUse trackers release it
// to the arena immediately and drop it from the owned set.
func (t *Tracker) Free(b Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.policy {
	case HoldFree:
		t.pool = append(t.pool, b)
	case HoldInUse:
		delete(t.owned, b.Offset)
		t.arena.Free(b)
	}
}

// ReleaseAll bulk-frees every block this tracker currently owns. Valid
// only for HoldInUse trackers; it is the mechanism Capture uses to tear
// down a batch or a flushed flow-table snapshot in one call.
func (t *Tracker) ReleaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.policy != HoldInUse {
		return
	}
	for _, b := range t.owned {
		t.arena.Free(b)
	}
	t.owned = make(map[int]Block)
}

// OutstandingCount reports how many blocks a HoldInUse tracker has not
// yet released; useful for leak attribution in debug builds.
func (t *Tracker) OutstandingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owned)
}
