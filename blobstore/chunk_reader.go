package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/chunkgo"
)

// ChunkReaderOption configures a blob-backed chunk reader.
type ChunkReaderOption func(*blobChunkReader)

// WithCRCCheckChance sets the probability in [0, 1] that a cache miss on
// this reader is verified against its checksum. The value is clamped.
func WithCRCCheckChance(chance float64) ChunkReaderOption {
	return func(r *blobChunkReader) {
		r.chance = min(max(chance, 0), 1)
	}
}

// NewChunkReader adapts a Blob into a chunkgo.ChunkReader so blob reads
// can go through a chunk cache. The name keys cache entries and must be
// unique per blob across everything sharing the cache. chunkSize must be
// a power of two.
//
// Closing the returned reader closes the blob.
func NewChunkReader(name string, blob Blob, chunkSize int, optFns ...ChunkReaderOption) (chunkgo.ChunkReader, error) {
	if chunkSize <= 0 || chunkSize&(chunkSize-1) != 0 {
		return nil, fmt.Errorf("blobstore: chunk size %d is not a power of two", chunkSize)
	}
	r := &blobChunkReader{
		name:      name,
		blob:      blob,
		chunkSize: chunkSize,
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r, nil
}

type blobChunkReader struct {
	name      string
	blob      Blob
	chunkSize int
	chance    float64
}

var _ chunkgo.ChunkReader = (*blobChunkReader)(nil)

func (r *blobChunkReader) ChunkSize() int {
	return r.chunkSize
}

func (r *blobChunkReader) Size() int64 {
	return r.blob.Size()
}

func (r *blobChunkReader) Path() string {
	return r.name
}

func (r *blobChunkReader) CRCCheckChance() float64 {
	return r.chance
}

func (r *blobChunkReader) ReadChunk(ctx context.Context, position int64, p []byte) (int, error) {
	n, err := r.blob.ReadAt(ctx, p, position)
	// A short final chunk is a complete read, not an error.
	if n > 0 && errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (r *blobChunkReader) Close() error {
	return r.blob.Close()
}
