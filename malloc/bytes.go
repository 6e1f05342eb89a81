package malloc

import (
	"fmt"
	"unsafe"
)

// Bytes returns the memory of the allocated block at addr, with len and cap
// equal to the block size. It returns nil if addr is not a live allocation.
func (a *BuddyAllocator) Bytes(addr Addr) []byte {
	idx, err := a.allocatedHead(addr)
	if err != nil {
		return nil
	}
	start := int(addr)
	end := start + 1<<a.pages[idx].order
	return a.arena[start:end:end]
}

// AllocBytes allocates a block of at least size bytes.
// It returns a slice of len size and cap equal to the block size,
// or nil if no sufficiently large block is available.
func (a *BuddyAllocator) AllocBytes(size int) []byte {
	addr, err := a.Alloc(size)
	if err != nil {
		return nil
	}
	return a.Bytes(addr)[:size]
}

// FreeBytes returns a block obtained from AllocBytes or Bytes to the allocator.
// Freeing a nil or zero-capacity slice is a no-op.
//
// IMPORTANT: The block must be the original slice returned by AllocBytes.
// A resliced block (e.g., block[n:]) no longer points at the block head
// and is rejected with ErrInvalidAddr.
func (a *BuddyAllocator) FreeBytes(block []byte) error {
	size := cap(block)
	if size == 0 {
		return nil
	}
	// Use slice header directly to avoid panic on zero-length slices.
	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	arenaStart := uintptr(unsafe.Pointer(&a.arena[0]))
	if dataPtr < arenaStart || dataPtr >= arenaStart+uintptr(len(a.arena)) {
		return fmt.Errorf("%w: slice not in arena", ErrInvalidAddr)
	}
	addr := Addr(dataPtr - arenaStart)

	blockSize, err := a.BlockSize(addr)
	if err != nil {
		return err
	}
	if blockSize != size {
		return fmt.Errorf("%w: cap %d does not match block size %d", ErrInvalidAddr, size, blockSize)
	}
	return a.Free(addr)
}
