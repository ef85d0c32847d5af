// Package bufpool provides an off-heap block pool for cached chunk data.
//
// # Overview
//
// Chunk buffers are large (typically 4-64 KiB), long-lived, and churn fast
// on a hot read path. Keeping them on the Go heap would make every cache
// fill a garbage collector liability. The pool instead hands out blocks
// backed by anonymous memory mappings and recycles them through per-size
// free lists.
//
// # Budget Semantics
//
// The pool never blocks and never fails a request because the budget is
// exhausted. A request that does not fit under the budget is served by an
// allocation outside of it: the block is flagged, an overflow is recorded,
// and the block is unmapped as soon as it comes back instead of being
// recycled. Allocation only fails when the operating system refuses the
// mapping.
//
// # Lifecycle
//
//	pool := bufpool.New(bufpool.WithBudget(rc))
//	defer pool.Close()
//
//	b, err := pool.Get(chunkSize)
//	if err != nil { ... }
//	// fill b.Bytes(), hand it out, later:
//	pool.Put(b)
//
// Close unmaps all idle blocks. Blocks still in use stay valid and are
// unmapped when they are eventually returned, so a block released after
// Close never touches freed memory.
package bufpool
