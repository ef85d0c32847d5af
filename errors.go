package chunkgo

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the cache is used after Close.
	ErrClosed = errors.New("chunk cache is closed")

	// ErrAcquireExhausted is the sentinel wrapped by AcquireError. Use
	// errors.Is against this to detect reference acquisition failures.
	ErrAcquireExhausted = errors.New("failed to acquire a reference to a cached chunk")

	// ErrCapacityImmutable is returned by SetCapacity. Capacity is fixed
	// when the cache is constructed.
	ErrCapacityImmutable = errors.New("cache capacity cannot be changed at runtime")
)

// AcquireError indicates that a chunk reference could not be acquired
// within the configured number of attempts. Every attempt found the entry
// already released to zero, which points at a cache far too small for the
// number of concurrent readers or at a chunk that was released more times
// than it was acquired.
//
// errors.Is(err, ErrAcquireExhausted) matches this error.
type AcquireError struct {
	Path     string
	Offset   int64
	Attempts int
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("chunk %s@%d: no reference acquired after %d attempts; the cache may be too small for the read concurrency, or a buffer was over-released", e.Path, e.Offset, e.Attempts)
}

func (e *AcquireError) Unwrap() error { return ErrAcquireExhausted }

// ChunkCorruptionError indicates that a chunk's checksum did not match its
// recorded digest. Corrupt chunks are never installed in the cache.
type ChunkCorruptionError struct {
	Path     string
	Offset   int64
	Expected uint32
	Actual   uint32
}

func (e *ChunkCorruptionError) Error() string {
	return fmt.Sprintf("chunk %s@%d: crc32c mismatch (expected %08x, got %08x)", e.Path, e.Offset, e.Expected, e.Actual)
}
