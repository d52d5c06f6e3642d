// Package shmem implements the process-local allocator over one shared
// region (§4.1 of the design), plus the memmap tracking layer above it.
//
// The real CoMo establishes this region with mmap before fork so that
// child processes inherit identical virtual addresses. This port models
// the pipeline as goroutines sharing one address space instead of
// forked processes (see DESIGN.md), so Arena is a plain in-process
// allocator over one big byte slice rather than an actual mmap — the
// free-list and block-table semantics, and the "offsets instead of
// pointers" discipline the design calls for, are preserved so the same
// code would port cleanly to a real cross-process mmap later.
package shmem

import (
	"fmt"
	"runtime"
	"sync"
)

// Block is a handle to an allocated span of the arena. Code that crosses
// a process boundary should carry Offset (an index into the arena), not
// a Go slice header, per the design's pointer-vs-offset discipline.
type Block struct {
	Offset int
	Size   int
	arena  *Arena
}

// Bytes returns the block's backing storage. Valid only while the block
// has not been freed.
func (b Block) Bytes() []byte {
	return b.arena.buf[b.Offset : b.Offset+b.Size]
}

type freeSpan struct {
	offset int
	size   int
}

// Arena is a single fixed-size shared region with a first-fit free list.
type Arena struct {
	mu    sync.Mutex
	buf   []byte
	free  []freeSpan
	used  int
	debug bool
	origins map[int]string // offset -> file:line, debug builds only
}

// NewArena allocates an Arena of the given size, standing in for the
// mmap region established before the Supervisor forks its children.
func NewArena(size int, debug bool) *Arena {
	a := &Arena{
		buf:   make([]byte, size),
		free:  []freeSpan{{offset: 0, size: size}},
		debug: debug,
	}
	if debug {
		a.origins = make(map[int]string)
	}
	return a
}

// Size returns the arena's total capacity.
func (a *Arena) Size() int { return len(a.buf) }

// InUse returns the number of bytes currently allocated.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

const align = 8

func alignUp(n int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// Alloc hands out an aligned block of at least size bytes. Allocation
// failure is fatal for the process per §4.1 — callers above the raw
// allocator (Capture's per-module quotas) are expected to prevent
// oversubscription before it reaches here; Alloc itself only reports it.
func (a *Arena) Alloc(size int) (Block, error) {
	size = alignUp(size)
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, span := range a.free {
		if span.size >= size {
			blk := Block{Offset: span.offset, Size: size, arena: a}
			remaining := span.size - size
			if remaining == 0 {
				a.free = append(a.free[:i], a.free[i+1:]...)
			} else {
				a.free[i] = freeSpan{offset: span.offset + size, size: remaining}
			}
			a.used += size
			if a.debug {
				_, file, line, _ := runtime.Caller(1)
				a.origins[blk.Offset] = fmt.Sprintf("%s:%d", file, line)
			}
			return blk, nil
		}
	}
	return Block{}, fmt.Errorf("shmem: arena oversubscribed: requested %d, %d free across %d spans", size, a.freeBytesLocked(), len(a.free))
}

func (a *Arena) freeBytesLocked() int {
	n := 0
	for _, s := range a.free {
		n += s.size
	}
	return n
}

// Free returns a block's span to the free list, coalescing with
// adjacent free spans.
func (a *Arena) Free(b Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= b.Size
	if a.debug {
		delete(a.origins, b.Offset)
	}
	a.insertFreeLocked(freeSpan{offset: b.Offset, size: b.Size})
}

func (a *Arena) insertFreeLocked(ns freeSpan) {
	i := 0
	for i < len(a.free) && a.free[i].offset < ns.offset {
		i++
	}
	a.free = append(a.free, freeSpan{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = ns

	// Coalesce with neighbors.
	if i+1 < len(a.free) && a.free[i].offset+a.free[i].size == a.free[i+1].offset {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].offset+a.free[i-1].size == a.free[i].offset {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// Bytes returns the full backing buffer; used by cross-process handoff
// code that needs to slice by raw offset rather than through a Block.
func (a *Arena) Bytes() []byte { return a.buf }

// At slices the arena at [offset, offset+size).
func (a *Arena) At(offset, size int) []byte { return a.buf[offset : offset+size] }
