package malloc

import "sync"

// Allocator is the allocate/release surface shared by BuddyAllocator and its wrappers.
type Allocator interface {
	Alloc(size int) (Addr, error)
	Free(addr Addr) error
	BlockSize(addr Addr) (int, error)
}

var (
	_ Allocator = (*BuddyAllocator)(nil)
	_ Allocator = (*SyncAllocator)(nil)
)

// SyncAllocator serializes every call to the wrapped BuddyAllocator with one mutex.
// Split and merge touch several free lists and page records, so the whole
// operation is done under the lock.
type SyncAllocator struct {
	mu sync.Mutex
	a  *BuddyAllocator
}

// NewSyncAllocator wraps a. The caller must not use a directly afterwards.
func NewSyncAllocator(a *BuddyAllocator) *SyncAllocator {
	return &SyncAllocator{a: a}
}

// Alloc is BuddyAllocator.Alloc under the lock.
func (s *SyncAllocator) Alloc(size int) (Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Alloc(size)
}

// Free is BuddyAllocator.Free under the lock.
func (s *SyncAllocator) Free(addr Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Free(addr)
}

// BlockSize is BuddyAllocator.BlockSize under the lock.
func (s *SyncAllocator) BlockSize(addr Addr) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.BlockSize(addr)
}

// allocSized allocates and reads the block size in one critical section.
func (s *SyncAllocator) allocSized(size int) (Addr, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.allocSized(size)
}

// Bytes is BuddyAllocator.Bytes under the lock.
// The returned memory itself is not protected.
func (s *SyncAllocator) Bytes(addr Addr) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Bytes(addr)
}

// AllocBytes is BuddyAllocator.AllocBytes under the lock.
// The returned memory itself is not protected.
func (s *SyncAllocator) AllocBytes(size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.AllocBytes(size)
}

// FreeBytes is BuddyAllocator.FreeBytes under the lock.
func (s *SyncAllocator) FreeBytes(block []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.FreeBytes(block)
}

// Reset drops all allocations, see BuddyAllocator.Reset.
func (s *SyncAllocator) Reset() {
	s.mu.Lock()
	s.a.Reset()
	s.mu.Unlock()
}

// FreeCounts returns a consistent snapshot of the free block counts.
func (s *SyncAllocator) FreeCounts() []OrderCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.FreeCounts()
}

// Dump prints the free block count of every order, see BuddyAllocator.Dump.
func (s *SyncAllocator) Dump() string {
	return formatCounts(s.FreeCounts())
}

// Stats needs no lock, the geometry never changes.
func (s *SyncAllocator) Stats() string {
	return s.a.Stats()
}

// Config needs no lock either.
func (s *SyncAllocator) Config() Config {
	return s.a.Config()
}

// Available returns the total free bytes.
func (s *SyncAllocator) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Available()
}

// InUse returns the total bytes of live blocks.
func (s *SyncAllocator) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.InUse()
}

// Allocated returns the number of live blocks.
func (s *SyncAllocator) Allocated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Allocated()
}

// Digest is BuddyAllocator.Digest under the lock.
func (s *SyncAllocator) Digest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Digest()
}

// Verify is BuddyAllocator.Verify under the lock.
func (s *SyncAllocator) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Verify()
}
