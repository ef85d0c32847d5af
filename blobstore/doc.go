// Package blobstore provides storage backends for chunked file access.
//
// BlobStore is the interface for reading and writing data blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap-backed reads
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible storage
//   - MemoryStore: in-memory store for tests
//
// # Chunked Reads
//
// NewChunkReader adapts any Blob into a chunkgo.ChunkReader, so blob
// reads can be cached chunk by chunk:
//
//	blob, _ := store.Open(ctx, "sstable-42.db")
//	reader, _ := blobstore.NewChunkReader("sstable-42.db", blob, 64<<10)
//	reb := cache.MaybeWrap(reader)
//
// CachingStore does this wiring for every opened blob and adds
// parallel fills for reads spanning many chunks:
//
//	cached, _ := blobstore.NewCachingStore(inner, cache, 64<<10)
//	blob, _ := cached.Open(ctx, "sstable-42.db")
//	n, _ := blob.ReadAt(ctx, buf, off) // served from the chunk cache
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom backends. For
// cloud backends, ReadRange should issue a ranged request rather than
// reading through ReadAt, so large sequential scans avoid per-chunk
// round trips.
package blobstore
