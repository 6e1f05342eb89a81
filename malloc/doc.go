// Package malloc implements a buddy allocator over a fixed, power-of-two sized arena.
//
// The arena is divided into pages of 2^minOrder bytes. Every block is a run of
// 2^(order-minOrder) pages starting at a page index aligned to its own size, and
// is described by the record of its first page. Free blocks are kept in one list
// per order. Alloc pops the smallest fitting block and splits it in halves down to
// the requested order; Free merges a block with its buddy, the block whose page
// index differs in exactly the bit of its order, for as long as the buddy is free
// and of the same order.
//
// Addresses are byte offsets from the arena base. Bytes and AllocBytes give access
// to the underlying memory.
package malloc
