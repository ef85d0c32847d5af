package bufpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chunkgo/internal/mmap"
)

// MemoryBudget limits how much memory the pool may keep mapped.
type MemoryBudget interface {
	TryAcquireMemory(bytes int64) bool
	ReleaseMemory(bytes int64)
}

// ErrInvalidSize is returned when a block of non-positive size is requested.
var ErrInvalidSize = errors.New("bufpool: invalid block size")

// Stats tracks pool memory usage metrics.
type Stats struct {
	BytesMapped   int64  // Current: bytes mapped under the budget
	BytesOverflow int64  // Current: bytes mapped outside the budget
	BytesFree     int64  // Current: idle bytes sitting in free lists
	Gets          uint64 // Historical: total Get calls
	Reuses        uint64 // Historical: Gets served from a free list
	Overflows     uint64 // Historical: allocations made outside the budget
}

type atomicStats struct {
	BytesMapped   atomic.Int64
	BytesOverflow atomic.Int64
	BytesFree     atomic.Int64
	Gets          atomic.Uint64
	Reuses        atomic.Uint64
	Overflows     atomic.Uint64
}

// Block is a single off-heap allocation handed out by the pool.
type Block struct {
	mapping *mmap.Mapping
	data    []byte
	size    int
	pooled  bool
}

// Bytes returns the full backing slice of the block.
func (b *Block) Bytes() []byte {
	return b.data
}

// Size returns the block size in bytes.
func (b *Block) Size() int {
	return b.size
}

// Pool hands out fixed-size off-heap blocks and recycles them through
// per-size free lists. Blocks are anonymous memory mappings, invisible to
// the garbage collector.
//
// When the memory budget is exhausted the pool does not fail or block:
// it allocates outside the budget, records an overflow, and frees such
// blocks directly when they come back instead of recycling them.
type Pool struct {
	budget     MemoryBudget
	onOverflow func(requested int)

	mu     sync.Mutex
	free   map[int][]*Block
	closed bool

	warned atomic.Bool
	stats  atomicStats
}

// Option is a configuration option for Pool.
type Option func(*Pool)

// WithBudget sets the memory budget for the pool.
func WithBudget(budget MemoryBudget) Option {
	return func(p *Pool) {
		p.budget = budget
	}
}

// WithOverflowHandler sets a handler invoked once, on the first allocation
// made outside the budget.
func WithOverflowHandler(fn func(requested int)) Option {
	return func(p *Pool) {
		p.onOverflow = fn
	}
}

// New creates a new Pool.
func New(optFns ...Option) *Pool {
	p := &Pool{
		free: make(map[int][]*Block),
	}

	for _, fn := range optFns {
		fn(p)
	}

	return p
}

// Get returns a block of exactly size bytes, reusing a free block of the
// same size when one is available.
func (p *Pool) Get(size int) (*Block, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	p.stats.Gets.Add(1)

	p.mu.Lock()
	if !p.closed {
		if list := p.free[size]; len(list) > 0 {
			b := list[len(list)-1]
			p.free[size] = list[:len(list)-1]
			p.mu.Unlock()

			p.stats.BytesFree.Add(-int64(size))
			p.stats.Reuses.Add(1)
			return b, nil
		}
	}
	p.mu.Unlock()

	return p.allocate(size)
}

func (p *Pool) allocate(size int) (*Block, error) {
	pooled := true
	if p.budget != nil && !p.budget.TryAcquireMemory(int64(size)) {
		pooled = false
		p.stats.Overflows.Add(1)
		if p.onOverflow != nil && !p.warned.Swap(true) {
			p.onOverflow(size)
		}
	}

	mapping, err := mmap.MapAnon(size)
	if err != nil {
		if pooled && p.budget != nil {
			p.budget.ReleaseMemory(int64(size))
		}
		return nil, fmt.Errorf("bufpool: map anonymous memory: %w", err)
	}

	if pooled {
		p.stats.BytesMapped.Add(int64(size))
	} else {
		p.stats.BytesOverflow.Add(int64(size))
	}

	return &Block{
		mapping: mapping,
		data:    mapping.Bytes(),
		size:    size,
		pooled:  pooled,
	}, nil
}

// Put returns a block to the pool. Pooled blocks go back to their free
// list; overflow blocks are unmapped immediately. Blocks returned after
// Close are unmapped directly, so late releases are always safe.
func (p *Pool) Put(b *Block) {
	if b == nil {
		return
	}

	if b.pooled {
		p.mu.Lock()
		if !p.closed {
			p.free[b.size] = append(p.free[b.size], b)
			p.mu.Unlock()

			p.stats.BytesFree.Add(int64(b.size))
			return
		}
		p.mu.Unlock()
	}

	p.release(b)
}

func (p *Pool) release(b *Block) {
	_ = b.mapping.Close()
	b.data = nil

	if b.pooled {
		p.stats.BytesMapped.Add(-int64(b.size))
		if p.budget != nil {
			p.budget.ReleaseMemory(int64(b.size))
		}
	} else {
		p.stats.BytesOverflow.Add(-int64(b.size))
	}
}

// Close unmaps all free blocks and marks the pool closed. Blocks still in
// use remain valid until they are returned with Put.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, list := range free {
		for _, b := range list {
			p.stats.BytesFree.Add(-int64(b.size))
			p.release(b)
		}
	}
	return nil
}

// Stats returns a snapshot of the pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		BytesMapped:   p.stats.BytesMapped.Load(),
		BytesOverflow: p.stats.BytesOverflow.Load(),
		BytesFree:     p.stats.BytesFree.Load(),
		Gets:          p.stats.Gets.Load(),
		Reuses:        p.stats.Reuses.Load(),
		Overflows:     p.stats.Overflows.Load(),
	}
}
