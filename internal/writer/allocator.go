// Package writer provides MDF v3 file writing infrastructure.
//
// The Allocator manages space allocation with a simple end-of-file
// strategy and no freed-space reuse; blocks are tracked to prevent
// overlapping allocations.
package writer

import (
	"fmt"
	"sort"
)

// AllocatedBlock tracks an allocated region of the file.
//
// Each block represents a contiguous region that has been allocated and
// must not be overwritten or reused. Blocks are tracked to prevent
// overlapping allocations and to validate allocator integrity in tests.
type AllocatedBlock struct {
	Offset uint64 // Starting address in file
	Size   uint64 // Size of allocated block in bytes
}

// Allocator manages space allocation in an output file.
//
// Strategy:
//   - End-of-file allocation: all allocations occur at end of file
//   - No freed space reuse: once allocated, space is never reclaimed
//   - Overlap prevention: all allocations tracked
//
// Not thread-safe; designed for the single-threaded FileWriter.
type Allocator struct {
	blocks     []AllocatedBlock // All allocated blocks (append-only)
	nextOffset uint64           // Next available address (end-of-file)
}

// NewAllocator creates a space allocator. initialOffset is the first
// allocatable address, typically the size of the identification block.
func NewAllocator(initialOffset uint64) *Allocator {
	return &Allocator{
		blocks:     make([]AllocatedBlock, 0, 16),
		nextOffset: initialOffset,
	}
}

// Allocate reserves a block of space at the end of the file and returns
// its address. The space is not zeroed.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot allocate zero bytes")
	}

	addr := a.nextOffset
	a.blocks = append(a.blocks, AllocatedBlock{Offset: addr, Size: size})
	a.nextOffset = addr + size
	return addr, nil
}

// IsAllocated reports whether the region [offset, offset+size) overlaps
// any allocated block.
func (a *Allocator) IsAllocated(offset, size uint64) bool {
	end := offset + size
	for _, b := range a.blocks {
		bEnd := b.Offset + b.Size
		if offset < bEnd && b.Offset < end {
			return true
		}
	}
	return false
}

// EndOfFile returns the address one past the last allocated byte.
func (a *Allocator) EndOfFile() uint64 {
	return a.nextOffset
}

// Blocks returns a copy of all allocated blocks, sorted by offset.
func (a *Allocator) Blocks() []AllocatedBlock {
	out := make([]AllocatedBlock, len(a.blocks))
	copy(out, a.blocks)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// ValidateNoOverlaps checks allocator integrity: no two blocks may share
// a byte. Used by tests and debug assertions.
func (a *Allocator) ValidateNoOverlaps() error {
	blocks := a.Blocks()
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if prev.Offset+prev.Size > cur.Offset {
			return fmt.Errorf("allocation overlap: [%d,%d) and [%d,%d)",
				prev.Offset, prev.Offset+prev.Size, cur.Offset, cur.Offset+cur.Size)
		}
	}
	return nil
}
