package malloc

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Verify walks the page table and the free lists and checks that free and
// allocated blocks are aligned to their size, tile the arena without gaps or
// overlaps, and that no two free buddies of the same order were left unmerged.
// It returns an error wrapping ErrCorrupted describing the first violation.
func (a *BuddyAllocator) Verify() error {
	covered := bitset.New(uint(len(a.pages)))

	cover := func(idx, order int) error {
		if order < a.minOrder || order > a.maxOrder {
			return fmt.Errorf("%w: page %d has order %d", ErrCorrupted, idx, order)
		}
		n := a.pagesOf(order)
		if idx&(n-1) != 0 {
			return fmt.Errorf("%w: block at page %d misaligned for order %d", ErrCorrupted, idx, order)
		}
		for i := idx; i < idx+n; i++ {
			if covered.Test(uint(i)) {
				return fmt.Errorf("%w: page %d covered twice", ErrCorrupted, i)
			}
			covered.Set(uint(i))
		}
		return nil
	}

	free := 0
	for l, freeList := range a.freeLists {
		order := a.minOrder + l
		for slot, idx := range freeList {
			if idx < 0 || idx >= len(a.pages) {
				return fmt.Errorf("%w: free list %d holds page %d", ErrCorrupted, order, idx)
			}
			p := &a.pages[idx]
			if p.order != order || p.slot != slot {
				return fmt.Errorf("%w: page %d in free list %d has order %d slot %d",
					ErrCorrupted, idx, order, p.order, p.slot)
			}
			if order < a.maxOrder {
				bp := &a.pages[idx^a.pagesOf(order)]
				if bp.free() && bp.order == order {
					return fmt.Errorf("%w: free buddies %d and %d of order %d not merged",
						ErrCorrupted, idx, bp.index, order)
				}
			}
			if err := cover(idx, order); err != nil {
				return err
			}
			free += 1 << order
		}
	}

	inuse, live := 0, 0
	for i := range a.pages {
		p := &a.pages[i]
		if p.index != i {
			return fmt.Errorf("%w: page %d records index %d", ErrCorrupted, i, p.index)
		}
		if !p.allocated() {
			continue
		}
		if err := cover(i, p.order); err != nil {
			return err
		}
		inuse += 1 << p.order
		live++
	}

	if gap, ok := covered.NextClear(0); ok {
		return fmt.Errorf("%w: page %d belongs to no block", ErrCorrupted, gap)
	}
	if inuse != a.inuse || live != a.allocated {
		return fmt.Errorf("%w: counted %d bytes in %d blocks, tracked %d bytes in %d blocks",
			ErrCorrupted, inuse, live, a.inuse, a.allocated)
	}
	if free+inuse != len(a.arena) {
		return fmt.Errorf("%w: free %d + inuse %d != arena %d", ErrCorrupted, free, inuse, len(a.arena))
	}
	return nil
}
