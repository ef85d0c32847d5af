package chunkgo

import (
	"context"
)

// Rebufferer hands out chunk-aligned buffers for arbitrary file positions.
// It is the read-path surface a file cursor works against: ask for any
// position, receive the buffer holding the chunk that covers it.
//
// Buffers returned by Rebuffer are reference-counted. The caller must
// call Release on each returned buffer exactly once.
type Rebufferer interface {
	// Rebuffer returns a buffer covering position. The buffer's Offset
	// reports the chunk-aligned start it was read from.
	Rebuffer(ctx context.Context, position int64) (*Buffer, error)

	// InvalidateIfCached drops the chunk covering position from the
	// cache, if resident. References already handed out stay valid.
	InvalidateIfCached(position int64)

	// ChunkSize returns the fixed chunk size in bytes.
	ChunkSize() int

	// Size returns the length of the readable data in bytes.
	Size() int64

	// Path identifies the underlying file.
	Path() string

	// CRCCheckChance returns the integrity-check sampling rate of the
	// underlying reader.
	CRCCheckChance() float64

	// Close closes the underlying reader. Chunks already cached for the
	// path stay resident and remain valid for other readers.
	Close() error
}

// cachingRebufferer serves chunks through the cache. Misses load through
// the wrapped reader and install the result for later readers of the
// same path.
type cachingRebufferer struct {
	cache     *Cache
	reader    ChunkReader
	alignMask int64
}

func (cr *cachingRebufferer) Rebuffer(ctx context.Context, position int64) (*Buffer, error) {
	return cr.cache.rebuffer(ctx, cr.reader, position&^cr.alignMask)
}

func (cr *cachingRebufferer) InvalidateIfCached(position int64) {
	cr.cache.invalidateChunk(cr.reader.Path(), position&^cr.alignMask, int32(cr.reader.ChunkSize()))
}

func (cr *cachingRebufferer) ChunkSize() int {
	return cr.reader.ChunkSize()
}

func (cr *cachingRebufferer) Size() int64 {
	return cr.reader.Size()
}

func (cr *cachingRebufferer) Path() string {
	return cr.reader.Path()
}

func (cr *cachingRebufferer) CRCCheckChance() float64 {
	return cr.reader.CRCCheckChance()
}

func (cr *cachingRebufferer) Close() error {
	return cr.reader.Close()
}

// rawRebufferer reads through without caching. Each Rebuffer hands the
// caller a sole-owner buffer that is freed on the caller's Release. Used
// when caching is disabled and for files whose chunk size exceeds a
// shard's capacity.
type rawRebufferer struct {
	cache     *Cache
	reader    ChunkReader
	alignMask int64
}

func (rr *rawRebufferer) Rebuffer(ctx context.Context, position int64) (*Buffer, error) {
	return rr.cache.rebufferRaw(ctx, rr.reader, position&^rr.alignMask)
}

func (rr *rawRebufferer) InvalidateIfCached(position int64) {}

func (rr *rawRebufferer) ChunkSize() int {
	return rr.reader.ChunkSize()
}

func (rr *rawRebufferer) Size() int64 {
	return rr.reader.Size()
}

func (rr *rawRebufferer) Path() string {
	return rr.reader.Path()
}

func (rr *rawRebufferer) CRCCheckChance() float64 {
	return rr.reader.CRCCheckChance()
}

func (rr *rawRebufferer) Close() error {
	return rr.reader.Close()
}
