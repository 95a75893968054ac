// Package memmanager implements type-specific fixed-block pools, the
// LRU/in-use bookkeeping, and the dedicated eviction worker that keeps
// per-trace memory under the Engine-computed budget L.
//
// Pools hand out arena-relative (block, slot) indices rather than raw
// pointers, so evicting a pool's block never leaves a dangling pointer
// sitting inside the LRU structure
// -- callers hold a SlotRef, resolve it through Pool.Get while the slot is
// live, and stop resolving it once they observe Free.
package memmanager

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// blockSlots sizes each pool block at 2^11 slots; additional blocks are
// appended lazily as a pool grows rather than precomputing a block count
// from the trace size.
const blockSlots = 1 << 11

// SlotRef addresses one slot inside a Pool: a (block, slot) pair instead
// of a raw pointer.
type SlotRef struct {
	Block uint32
	Slot  uint32
}

// Pool is a fixed-block pool for values of type T. Alloc/Free operate in
// O(1) amortized time; a block is returned to the OS (its backing slice
// dropped) as soon as its bitmap goes fully clear.
type Pool[T any] struct {
	mu        sync.Mutex
	itemBytes int64
	blocks    []*poolBlock[T]
}

type poolBlock[T any] struct {
	slots []T
	bits  *bitset.BitSet // set bit = occupied
	used  uint32
}

// NewPool builds an empty pool. itemBytes is the accounted size of one T,
// used by the memory manager's budget bookkeeping (not by Go's own
// allocator, which sizes T directly).
func NewPool[T any](itemBytes int64) *Pool[T] {
	return &Pool[T]{itemBytes: itemBytes}
}

func (p *Pool[T]) ItemBytes() int64 { return p.itemBytes }

// Alloc returns a zero-valued T at a fresh slot and the SlotRef to
// address it.
func (p *Pool[T]) Alloc() (SlotRef, *T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for bi, b := range p.blocks {
		if b == nil {
			continue
		}
		if slot, ok := b.bits.NextClear(0); ok && slot < blockSlots {
			b.bits.Set(slot)
			b.used++
			var zero T
			b.slots[slot] = zero
			return SlotRef{Block: uint32(bi), Slot: uint32(slot)}, &b.slots[slot]
		}
	}

	// No free slot in any existing block: grow.
	nb := &poolBlock[T]{
		slots: make([]T, blockSlots),
		bits:  bitset.New(blockSlots),
	}
	nb.bits.Set(0)
	nb.used = 1
	p.blocks = append(p.blocks, nb)
	return SlotRef{Block: uint32(len(p.blocks) - 1), Slot: 0}, &nb.slots[0]
}

// Get resolves ref to its slot, or returns nil if the slot is currently
// free (already released via Free).
func (p *Pool[T]) Get(ref SlotRef) *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(ref.Block) >= len(p.blocks) {
		return nil
	}
	b := p.blocks[ref.Block]
	if b == nil || !b.bits.Test(uint(ref.Slot)) {
		return nil
	}
	return &b.slots[ref.Slot]
}

// Free releases ref's slot. When the owning block's bitmap goes fully
// clear, the block is dropped (returned to the OS on the next GC cycle).
func (p *Pool[T]) Free(ref SlotRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(ref.Block) >= len(p.blocks) {
		return
	}
	b := p.blocks[ref.Block]
	if b == nil || !b.bits.Test(uint(ref.Slot)) {
		return
	}
	b.bits.Clear(uint(ref.Slot))
	var zero T
	b.slots[ref.Slot] = zero
	b.used--
	if b.used == 0 {
		p.blocks[ref.Block] = nil
	}
}

// InUseSlots returns the total number of currently-allocated slots,
// across every block, for accounting/tests.
func (p *Pool[T]) InUseSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.blocks {
		if b != nil {
			n += int(b.used)
		}
	}
	return n
}

// Bytes returns the accounted byte footprint of all in-use slots.
func (p *Pool[T]) Bytes() int64 {
	return int64(p.InUseSlots()) * p.itemBytes
}
