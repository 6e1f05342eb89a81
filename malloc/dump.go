package malloc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"
)

// Config describes the fixed geometry of an allocator.
type Config struct {
	MinOrder  int
	MaxOrder  int
	PageSize  int
	ArenaSize int
	PageNum   int
}

// OrderCount is the number of free blocks of one order.
type OrderCount struct {
	Order int
	// Size is the block size in bytes, 2^Order.
	Size int
	Free int
}

// Config returns the geometry of the allocator.
func (a *BuddyAllocator) Config() Config {
	return Config{
		MinOrder:  a.minOrder,
		MaxOrder:  a.maxOrder,
		PageSize:  a.pageSize(),
		ArenaSize: len(a.arena),
		PageNum:   len(a.pages),
	}
}

// FreeCounts returns the number of free blocks for every order, smallest first.
func (a *BuddyAllocator) FreeCounts() []OrderCount {
	counts := make([]OrderCount, len(a.freeLists))
	for i, freeList := range a.freeLists {
		order := a.minOrder + i
		counts[i] = OrderCount{Order: order, Size: 1 << order, Free: len(freeList)}
	}
	return counts
}

// Dump prints the free block count of every order on one line,
// e.g. "1:4K 1:8K 0:16K ...".
func (a *BuddyAllocator) Dump() string {
	return formatCounts(a.FreeCounts())
}

func formatCounts(counts []OrderCount) string {
	var sb strings.Builder
	for _, c := range counts {
		if c.Size >= 1024 {
			fmt.Fprintf(&sb, "%d:%dK ", c.Free, c.Size/1024)
		} else {
			fmt.Fprintf(&sb, "%d:%dB ", c.Free, c.Size)
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}

// Stats prints the allocator geometry.
func (a *BuddyAllocator) Stats() string {
	return a.Config().String()
}

func (c Config) String() string {
	return fmt.Sprintf("MIN ORDER: %d\nMAX ORDER: %d\nPAGE SIZE: %d\nMEMORY AREA: %d\nPAGE NUM: %d\n",
		c.MinOrder, c.MaxOrder, c.PageSize, c.ArenaSize, c.PageNum)
}

// Available returns the total free bytes.
func (a *BuddyAllocator) Available() int {
	return len(a.arena) - a.inuse
}

// InUse returns the total bytes of live blocks.
func (a *BuddyAllocator) InUse() int {
	return a.inuse
}

// Allocated returns the number of live blocks.
func (a *BuddyAllocator) Allocated() int {
	return a.allocated
}

// Digest returns a fingerprint of the free lists, including the order of
// entries within each list. Two allocators of the same geometry with equal
// digests will hand out the same addresses for the same requests.
func (a *BuddyAllocator) Digest() uint64 {
	n := len(a.freeLists)
	for _, freeList := range a.freeLists {
		n += len(freeList)
	}
	buf := mcache.Malloc(n * 8)
	off := 0
	for _, freeList := range a.freeLists {
		binary.LittleEndian.PutUint64(buf[off:], uint64(len(freeList)))
		off += 8
		for _, idx := range freeList {
			binary.LittleEndian.PutUint64(buf[off:], uint64(idx))
			off += 8
		}
	}
	h := xxhash3.Hash(buf)
	mcache.Free(buf)
	return h
}
