package malloc

import "errors"

var (
	// ErrInvalidSize is returned by Alloc when the size is <= 0 or larger than the arena.
	ErrInvalidSize = errors.New("buddy: invalid size")

	// ErrExhausted is returned by Alloc when no free block is large enough.
	ErrExhausted = errors.New("buddy: out of memory")

	// ErrInvalidAddr is returned by Free when the address is not the head of an allocated block.
	ErrInvalidAddr = errors.New("buddy: invalid block")

	// ErrDoubleFree is returned by Free when the block is already free.
	ErrDoubleFree = errors.New("buddy: double free")

	// ErrCorrupted is returned by Verify when the allocator state breaks an invariant.
	ErrCorrupted = errors.New("buddy: corrupted state")
)
