package malloc

import (
	"fmt"
	"math/bits"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

const (
	// DefaultMinOrder is the default log2 of the page size (4KB).
	DefaultMinOrder = 12

	// DefaultMaxOrder is the default log2 of the arena size (1MB).
	DefaultMaxOrder = 20

	// MaxArenaOrder caps the arena at 4GB.
	MaxArenaOrder = 32

	// noOrder marks a page that is not the head of any block.
	noOrder = -1

	// noSlot marks a page that is not in any free list.
	noSlot = -1
)

// Addr is a byte offset from the start of the arena.
type Addr int

// NilAddr is returned by Alloc when no block could be handed out.
const NilAddr Addr = -1

// page is the metadata record of one page of the arena.
type page struct {
	// order is the order of the block this page heads, or noOrder.
	order int
	// index is the page's own index in the page table.
	index int
	// slot is the position of the page in freeLists[order-minOrder],
	// or noSlot when the page is not a free block head.
	slot int
}

// free reports whether the page heads a free block.
func (p *page) free() bool { return p.slot != noSlot }

// allocated reports whether the page heads an allocated block.
func (p *page) allocated() bool { return p.order != noOrder && p.slot == noSlot }

// BuddyAllocator manages a fixed arena of 2^maxOrder bytes in power-of-two blocks.
// It is not safe for concurrent use, see SyncAllocator.
type BuddyAllocator struct {
	// arena is the memory we are managing.
	arena []byte

	// pages holds one record per page of minOrder bytes.
	pages []page

	// freeLists holds the page indices of the free block heads for each order.
	// freeLists[0] is for pages (minOrder), freeLists[maxOrder-minOrder] is the whole arena.
	freeLists [][]int

	// minOrder is log2 of the page size.
	minOrder int
	// maxOrder is log2 of the arena size.
	maxOrder int

	// inuse is the number of bytes handed out.
	inuse int
	// allocated is the number of live blocks.
	allocated int
}

// NewBuddyAllocator creates a buddy allocator with the default orders (4KB pages, 1MB arena).
func NewBuddyAllocator() (*BuddyAllocator, error) {
	return NewBuddyAllocatorWithOrder(DefaultMinOrder, DefaultMaxOrder)
}

// NewBuddyAllocatorWithOrder creates a buddy allocator over a fresh arena of 2^maxOrder bytes
// split into pages of 2^minOrder bytes.
func NewBuddyAllocatorWithOrder(minOrder, maxOrder int) (*BuddyAllocator, error) {
	if minOrder < 0 {
		return nil, fmt.Errorf("minOrder must be >= 0, got %d", minOrder)
	}
	if minOrder > maxOrder {
		return nil, fmt.Errorf("minOrder (%d) must be <= maxOrder (%d)", minOrder, maxOrder)
	}
	if maxOrder > MaxArenaOrder {
		return nil, fmt.Errorf("maxOrder must be <= %d, got %d", MaxArenaOrder, maxOrder)
	}

	size := 1 << maxOrder
	numPages := 1 << (maxOrder - minOrder)
	levels := maxOrder - minOrder + 1

	a := &BuddyAllocator{
		arena:     dirtmake.Bytes(size, size),
		pages:     make([]page, numPages),
		freeLists: make([][]int, levels),
		minOrder:  minOrder,
		maxOrder:  maxOrder,
	}

	// A level can hold at most half of the blocks of its order at once,
	// since two free buddies are always merged. Capped at 64 to avoid over-allocation.
	for i := 0; i < levels-1; i++ {
		capacity := 1 << (levels - 2 - i)
		if capacity > 64 {
			capacity = 64
		}
		a.freeLists[i] = make([]int, 0, capacity)
	}
	a.freeLists[levels-1] = make([]int, 0, 1)

	a.Reset()
	return a, nil
}

// Reset drops all allocations and returns the allocator to a single free block
// spanning the whole arena.
func (a *BuddyAllocator) Reset() {
	for i := range a.freeLists {
		a.freeLists[i] = a.freeLists[i][:0]
	}
	for i := range a.pages {
		a.pages[i] = page{order: noOrder, index: i, slot: noSlot}
	}
	a.push(a.maxOrder, 0)
	a.inuse = 0
	a.allocated = 0
}

// Alloc allocates a block of at least size bytes and returns its offset in the arena.
// The offset is aligned to the block size. On failure it returns NilAddr and an error
// wrapping ErrInvalidSize or ErrExhausted, and the allocator is left untouched.
func (a *BuddyAllocator) Alloc(size int) (Addr, error) {
	if size <= 0 || size > len(a.arena) {
		return NilAddr, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidSize, size, len(a.arena))
	}
	order := a.orderForSize(size)

	// Fast path: exact order match
	if a.listLen(order) > 0 {
		return a.take(a.pop(order), order), nil
	}

	foundOrder := -1
	for o := order + 1; o <= a.maxOrder; o++ {
		if a.listLen(o) > 0 {
			foundOrder = o
			break
		}
	}
	if foundOrder == -1 {
		return NilAddr, fmt.Errorf("%w: no free block of order >= %d", ErrExhausted, order)
	}

	idx := a.pop(foundOrder)

	// Split until we reach required order.
	// The left half keeps the index and is split further, the right half
	// goes to the free list of the new (lower) order.
	for foundOrder > order {
		foundOrder--
		a.push(foundOrder, idx+a.pagesOf(foundOrder))
	}

	return a.take(idx, order), nil
}

// allocSized is Alloc that also reports the size of the block handed out.
func (a *BuddyAllocator) allocSized(size int) (Addr, int, error) {
	addr, err := a.Alloc(size)
	if err != nil {
		return addr, 0, err
	}
	return addr, 1 << a.pages[a.pageOf(addr)].order, nil
}

// take marks the popped head idx as an allocated block of the given order.
func (a *BuddyAllocator) take(idx, order int) Addr {
	a.pages[idx].order = order
	a.inuse += 1 << order
	a.allocated++
	return a.addrOf(idx)
}

// Free returns the block at addr to the allocator, merging it with its buddy
// as long as the buddy is free and of the same order.
// It returns an error wrapping ErrInvalidAddr or ErrDoubleFree if addr is not
// the head of a live allocation, in which case nothing is changed.
func (a *BuddyAllocator) Free(addr Addr) error {
	idx, err := a.allocatedHead(addr)
	if err != nil {
		return err
	}

	order := a.pages[idx].order
	a.inuse -= 1 << order
	a.allocated--

	for order < a.maxOrder {
		buddy := idx ^ a.pagesOf(order)
		bp := &a.pages[buddy]
		// A free block that merely contains the buddy page has a bigger order
		// and is not a merge candidate.
		if !bp.free() || bp.order != order {
			break
		}
		a.remove(order, buddy)
		bp.order = noOrder
		a.pages[idx].order = noOrder
		if buddy < idx {
			idx = buddy
		}
		order++
	}

	a.push(order, idx)
	return nil
}

// BlockSize returns the size of the allocated block at addr.
func (a *BuddyAllocator) BlockSize(addr Addr) (int, error) {
	idx, err := a.allocatedHead(addr)
	if err != nil {
		return 0, err
	}
	return 1 << a.pages[idx].order, nil
}

// allocatedHead maps addr to the index of the allocated block head it names.
func (a *BuddyAllocator) allocatedHead(addr Addr) (int, error) {
	if addr < 0 || int(addr) >= len(a.arena) {
		return 0, fmt.Errorf("%w: %d out of arena", ErrInvalidAddr, addr)
	}
	if int(addr)&(a.pageSize()-1) != 0 {
		return 0, fmt.Errorf("%w: %d not page aligned", ErrInvalidAddr, addr)
	}
	idx := a.pageOf(addr)
	p := &a.pages[idx]
	if p.order == noOrder {
		return 0, fmt.Errorf("%w: %d is not a block head", ErrInvalidAddr, addr)
	}
	if p.free() {
		return 0, fmt.Errorf("%w: block at %d", ErrDoubleFree, addr)
	}
	return idx, nil
}

// push makes page idx the head of a free block of the given order.
func (a *BuddyAllocator) push(order, idx int) {
	l := order - a.minOrder
	p := &a.pages[idx]
	p.order = order
	p.slot = len(a.freeLists[l])
	a.freeLists[l] = append(a.freeLists[l], idx)
}

// pop removes and returns the head of the free list of the given order.
// The list must not be empty.
func (a *BuddyAllocator) pop(order int) int {
	l := order - a.minOrder
	freeList := a.freeLists[l]
	n := len(freeList) - 1
	idx := freeList[n]
	a.freeLists[l] = freeList[:n]
	a.pages[idx].slot = noSlot
	return idx
}

// remove unlinks page idx from the free list of the given order in O(1)
// by moving the last entry into its slot.
func (a *BuddyAllocator) remove(order, idx int) {
	l := order - a.minOrder
	freeList := a.freeLists[l]
	n := len(freeList) - 1
	slot := a.pages[idx].slot
	if slot != n {
		last := freeList[n]
		freeList[slot] = last
		a.pages[last].slot = slot
	}
	a.freeLists[l] = freeList[:n]
	a.pages[idx].slot = noSlot
}

func (a *BuddyAllocator) listLen(order int) int {
	return len(a.freeLists[order-a.minOrder])
}

// orderForSize calculates the smallest order that can fit the given size.
// It uses bits.Len to find the smallest power of two that satisfies the request.
func (a *BuddyAllocator) orderForSize(size int) int {
	if size <= a.pageSize() {
		return a.minOrder
	}
	return bits.Len(uint(size - 1))
}

// pagesOf returns the number of pages in a block of the given order.
func (a *BuddyAllocator) pagesOf(order int) int { return 1 << (order - a.minOrder) }

func (a *BuddyAllocator) pageSize() int { return 1 << a.minOrder }

func (a *BuddyAllocator) addrOf(idx int) Addr { return Addr(idx << a.minOrder) }

func (a *BuddyAllocator) pageOf(addr Addr) int { return int(addr) >> a.minOrder }
