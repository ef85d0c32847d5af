// Package chunkgo provides a concurrent, capacity-bounded cache of
// fixed-size file chunks for storage engine read paths.
//
// Chunks live in reference counted off-heap buffers allocated from an
// anonymous-mmap pool, so cached data stays outside the garbage
// collector's reach. Entries are keyed by (path, offset, chunk size) and
// shared across every reader of the same file; a per-file secondary index
// makes dropping one file's chunks cheap even when the cache holds
// millions of entries.
//
// # Usage
//
// Wrap any ChunkReader with MaybeWrap and read chunk-aligned buffers
// through the returned Rebufferer:
//
//	cc, err := chunkgo.New(chunkgo.WithCapacity(256 << 20))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cc.Close()
//
//	rb := cc.MaybeWrap(reader)
//	defer rb.Close()
//
//	buf, err := rb.Rebuffer(ctx, position)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer buf.Release()
//
//	data := buf.Bytes()[position-buf.Offset():]
//
// Every buffer returned by Rebuffer carries one reference owned by the
// caller. Release it exactly once; the bytes are valid until then, even
// if the chunk is evicted or invalidated concurrently.
//
// # Lifecycle
//
// When a file is deleted or rewritten, InvalidateFile drops its chunks.
// Closing a Rebufferer closes only the underlying reader; cached chunks
// survive for other readers of the same path. Closing the Cache drains
// everything and returns the pooled memory to the operating system.
//
// # Caching policy
//
// Misses load through the wrapped reader, coalesced so concurrent reads
// of the same chunk trigger a single load. Admission is unconditional;
// eviction is least-recently-used per shard, weighted by buffer size.
// Readers never wait for eviction: if the pool budget is exhausted the
// load proceeds past it and the overage is logged once.
package chunkgo
