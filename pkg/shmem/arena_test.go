package shmem

import "testing"

func TestArenaAllocFreeCoalesce(t *testing.T) {
	a := NewArena(256, false)
	b1, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b2, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.Free(b1)
	a.Free(b2)
	if a.InUse() != 0 {
		t.Fatalf("expected 0 in-use after freeing everything, got %d", a.InUse())
	}
	// Coalesced free space should allow a single larger allocation.
	if _, err := a.Alloc(128); err != nil {
		t.Fatalf("expected coalesced free space to satisfy alloc: %v", err)
	}
}

func TestArenaOversubscriptionFails(t *testing.T) {
	a := NewArena(64, false)
	if _, err := a.Alloc(128); err == nil {
		t.Fatalf("expected oversubscription error")
	}
}

func TestTrackerHoldInUseReleaseAll(t *testing.T) {
	a := NewArena(1024, false)
	tr := NewTracker(a, HoldInUse, 0)
	for i := 0; i < 4; i++ {
		if _, err := tr.Alloc(32); err != nil {
			t.Fatalf("alloc: %v", err)
		}
	}
	if tr.OutstandingCount() != 4 {
		t.Fatalf("expected 4 outstanding blocks")
	}
	tr.ReleaseAll()
	if tr.OutstandingCount() != 0 {
		t.Fatalf("expected 0 outstanding after ReleaseAll")
	}
	if a.InUse() != 0 {
		t.Fatalf("expected arena fully reclaimed, got %d in use", a.InUse())
	}
}

func TestTrackerHoldFreeReusesBlocks(t *testing.T) {
	a := NewArena(1024, false)
	tr := NewTracker(a, HoldFree, 32)
	b, err := tr.Alloc(32)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	inUseBefore := a.InUse()
	tr.Free(b)
	b2, err := tr.Alloc(32)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if b2.Offset != b.Offset {
		t.Fatalf("expected pooled block reuse, got different offset")
	}
	if a.InUse() != inUseBefore {
		t.Fatalf("expected arena usage unchanged across pooled reuse")
	}
}
