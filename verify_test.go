package chunkgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgo/internal/hash"
)

func chunkDigests(data []byte, chunkSize int) []uint32 {
	var digests []uint32
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		digests = append(digests, hash.CRC32C(data[off:end]))
	}
	return digests
}

func TestVerifyingChunkReader_PassesGoodData(t *testing.T) {
	r := newTestReader("data/ok.db", 4096, 8*4096)
	vr := NewVerifyingChunkReader(r, chunkDigests(r.data, 4096), 1.0)

	assert.Equal(t, 1.0, vr.CRCCheckChance())

	p := make([]byte, 4096)
	for pos := int64(0); pos < vr.Size(); pos += 4096 {
		n, err := vr.ReadChunk(t.Context(), pos, p)
		require.NoError(t, err)
		assert.Equal(t, 4096, n)
	}
}

func TestVerifyingChunkReader_DetectsCorruption(t *testing.T) {
	r := newTestReader("data/corrupt.db", 4096, 8*4096)
	digests := chunkDigests(r.data, 4096)
	r.data[5000] ^= 0xff // flip a byte in chunk 1

	vr := NewVerifyingChunkReader(r, digests, 1.0)

	p := make([]byte, 4096)

	// Chunk 0 is intact.
	_, err := vr.ReadChunk(t.Context(), 0, p)
	require.NoError(t, err)

	n, err := vr.ReadChunk(t.Context(), 4096, p)
	assert.Zero(t, n)

	var cerr *ChunkCorruptionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "data/corrupt.db", cerr.Path)
	assert.Equal(t, int64(4096), cerr.Offset)
	assert.NotEqual(t, cerr.Expected, cerr.Actual)
	assert.Contains(t, err.Error(), "crc32c mismatch")
}

func TestVerifyingChunkReader_ShortFinalChunk(t *testing.T) {
	r := newTestReader("data/tail.db", 4096, 4096+100)
	vr := NewVerifyingChunkReader(r, chunkDigests(r.data, 4096), 1.0)

	p := make([]byte, 4096)
	n, err := vr.ReadChunk(t.Context(), 4096, p)
	require.NoError(t, err, "digest covers only the bytes stored in the chunk")
	assert.Equal(t, 100, n)
}

func TestVerifyingChunkReader_ZeroChanceSkipsChecks(t *testing.T) {
	r := newTestReader("data/skip.db", 4096, 4*4096)
	vr := NewVerifyingChunkReader(r, make([]uint32, 4), 0)

	p := make([]byte, 4096)
	for i := 0; i < 50; i++ {
		_, err := vr.ReadChunk(t.Context(), 0, p)
		require.NoError(t, err, "no read is checked against the bogus digests")
	}
}

func TestVerifyingChunkReader_MissingDigestSkipsCheck(t *testing.T) {
	r := newTestReader("data/partial.db", 4096, 4*4096)
	digests := chunkDigests(r.data[:4096], 4096) // only chunk 0 covered

	vr := NewVerifyingChunkReader(r, digests, 1.0)

	p := make([]byte, 4096)
	_, err := vr.ReadChunk(t.Context(), 0, p)
	require.NoError(t, err)
	_, err = vr.ReadChunk(t.Context(), 3*4096, p)
	require.NoError(t, err, "chunks beyond the digest table read unchecked")
}

func TestNewVerifyingChunkReader_ClampsChance(t *testing.T) {
	r := newTestReader("data/clamp.db", 4096, 4096)

	assert.Equal(t, 0.0, NewVerifyingChunkReader(r, nil, -0.5).CRCCheckChance())
	assert.Equal(t, 1.0, NewVerifyingChunkReader(r, nil, 7).CRCCheckChance())
}

func TestCache_CorruptChunkNotCached(t *testing.T) {
	cc := newTestCache(t, WithCapacity(32<<20))

	r := newTestReader("data/sst.db", 4096, 8*4096)
	digests := chunkDigests(r.data, 4096)
	r.data[100] ^= 0x01

	rb := cc.MaybeWrap(NewVerifyingChunkReader(r, digests, 1.0))
	defer rb.Close()

	_, err := rb.Rebuffer(t.Context(), 0)
	var cerr *ChunkCorruptionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, cc.Size(), "corrupt chunks are not installed")

	// Repairing the data lets the next read through.
	r.data[100] ^= 0x01
	buf, err := rb.Rebuffer(t.Context(), 0)
	require.NoError(t, err)
	buf.Release()
	assert.Equal(t, 1, cc.Size())
	assert.Equal(t, int64(2), r.loads.Load())
}
