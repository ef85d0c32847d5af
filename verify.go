package chunkgo

import (
	"context"
	"math/rand/v2"

	"github.com/hupe1980/chunkgo/internal/hash"
)

// VerifyingChunkReader wraps a ChunkReader with a table of expected
// per-chunk CRC32C digests. Each read is verified against the table with
// probability CRCCheckChance. A mismatch surfaces as a
// ChunkCorruptionError and the cache keeps the corrupt chunk out of the
// cache.
type VerifyingChunkReader struct {
	ChunkReader

	digests []uint32
	chance  float64
}

// NewVerifyingChunkReader wraps reader with CRC32C verification. The
// digests table holds one digest per chunk ordinal, computed over the
// bytes actually stored in that chunk. chance is the per-read sampling
// probability in [0, 1] and replaces the wrapped reader's value.
func NewVerifyingChunkReader(reader ChunkReader, digests []uint32, chance float64) *VerifyingChunkReader {
	if chance < 0 {
		chance = 0
	}
	if chance > 1 {
		chance = 1
	}

	return &VerifyingChunkReader{
		ChunkReader: reader,
		digests:     digests,
		chance:      chance,
	}
}

// CRCCheckChance returns the sampling probability for this reader.
func (vr *VerifyingChunkReader) CRCCheckChance() float64 {
	return vr.chance
}

// ReadChunk reads through to the wrapped reader and, with probability
// CRCCheckChance, verifies the bytes against the digest table.
func (vr *VerifyingChunkReader) ReadChunk(ctx context.Context, position int64, p []byte) (int, error) {
	n, err := vr.ChunkReader.ReadChunk(ctx, position, p)
	if err != nil {
		return n, err
	}

	if vr.chance <= 0 || (vr.chance < 1 && rand.Float64() >= vr.chance) {
		return n, nil
	}

	ordinal := position / int64(vr.ChunkSize())
	if ordinal < 0 || ordinal >= int64(len(vr.digests)) {
		return n, nil
	}

	expected := vr.digests[ordinal]
	if actual := hash.CRC32C(p[:n]); actual != expected {
		return 0, &ChunkCorruptionError{
			Path:     vr.Path(),
			Offset:   position,
			Expected: expected,
			Actual:   actual,
		}
	}

	return n, nil
}
