// Package resource implements a resource controller for global limits and governance.
//
// The Controller provides centralized management of two resource types:
//
//   - Memory: Track and limit off-heap memory held by the buffer pool
//   - IO: Rate-limit traffic against slow backing stores
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and atomic counters
// for usage tracking. The non-blocking TryAcquireMemory lets callers decide
// their own policy when the budget is exhausted (the buffer pool allocates
// outside the budget and records an overflow instead of blocking the read
// path):
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if !rc.TryAcquireMemory(1024 * 1024) {
//	    // over budget - caller decides what to do
//	}
//	defer rc.ReleaseMemory(1024 * 1024)
//
// # IO Rate Limiting
//
// Token bucket rate limiter shared by cache-miss loads and blob writes, so
// a cold scan cannot starve the store of foreground throughput:
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	// Direct acquire
//	if err := rc.AcquireIO(ctx, 4096); err != nil {
//	    return err
//	}
//
//	// Rate-limited writer wrapper
//	writer := resource.NewRateLimitedWriter(ctx, file, rc)
//
// # Thread Safety
//
// All Controller methods are safe for concurrent use. The underlying
// implementations use atomic operations and sync primitives.
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
