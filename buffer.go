package chunkgo

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/chunkgo/internal/bufpool"
)

// Buffer is a reference-counted chunk of file data. It is created with a
// single reference owned by the cache. Readers that obtain a Buffer from
// Rebuffer hold an additional reference and must call Release exactly once
// when done.
//
// Bytes and Offset are only valid while the caller holds a reference.
// After the final Release the backing memory returns to the buffer pool
// and may be recycled for another chunk.
type Buffer struct {
	data   []byte
	offset int64
	refs   atomic.Int32
	free   func()
}

func newPooledBuffer(pool *bufpool.Pool, block *bufpool.Block, n int, offset int64) *Buffer {
	b := &Buffer{
		data:   block.Bytes()[:n],
		offset: offset,
	}
	b.free = func() {
		b.data = nil
		pool.Put(block)
	}
	b.refs.Store(1)
	return b
}

func newHeapBuffer(data []byte, offset int64) *Buffer {
	b := &Buffer{
		data:   data,
		offset: offset,
	}
	b.free = func() {
		b.data = nil
	}
	b.refs.Store(1)
	return b
}

// Bytes returns the chunk contents. The slice is valid only while the
// caller holds a reference.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Offset returns the chunk-aligned file position this buffer was read from.
func (b *Buffer) Offset() int64 {
	return b.offset
}

// Cap returns the full capacity of the backing memory. For the last chunk
// of a file this can exceed len(Bytes()).
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Weight returns the number of bytes this buffer accounts for against the
// cache capacity.
func (b *Buffer) Weight() int64 {
	return int64(cap(b.data))
}

// tryAcquire takes an additional reference. It fails once the count has
// reached zero, meaning the buffer is already freed or mid-free.
func (b *Buffer) tryAcquire() bool {
	for {
		refs := b.refs.Load()
		if refs <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops one reference. The backing memory is freed exactly once,
// when the count reaches zero. Releasing more often than acquired is a
// bug and panics.
func (b *Buffer) Release() {
	refs := b.refs.Add(-1)
	if refs == 0 {
		b.free()
		return
	}
	if refs < 0 {
		panic(fmt.Sprintf("chunkgo: buffer over-released (refs %d)", refs))
	}
}

// refCount reports the current reference count. Test hook.
func (b *Buffer) refCount() int32 {
	return b.refs.Load()
}
