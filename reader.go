package chunkgo

import (
	"context"
)

// ChunkReader reads a file in fixed-size chunks at aligned positions. It
// is the source the cache loads from on a miss.
//
// Implementations must be safe for concurrent ReadChunk calls. The cache
// coalesces loads per chunk but distinct chunks load in parallel.
type ChunkReader interface {
	// ChunkSize returns the fixed chunk size in bytes. It must be a
	// power of two and must not change over the reader's lifetime.
	ChunkSize() int

	// Size returns the length of the readable data in bytes.
	Size() int64

	// Path identifies the underlying file. Cache entries are keyed by
	// this path, so invalidating the path drops every chunk the reader
	// contributed.
	Path() string

	// CRCCheckChance returns the probability in [0, 1] that a chunk read
	// is verified against its checksum. Zero disables verification.
	CRCCheckChance() float64

	// ReadChunk reads the chunk at the given aligned position into p,
	// which has room for a full chunk. It returns the number of bytes
	// read, which is less than a full chunk only at the end of the file.
	ReadChunk(ctx context.Context, position int64, p []byte) (int, error)

	// Close releases resources held by the reader. Cached chunks survive
	// the reader and remain valid for other readers of the same path.
	Close() error
}
