package integration_test

import (
	"bytes"
	"context"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgo"
	"github.com/hupe1980/chunkgo/blobstore"
	"github.com/hupe1980/chunkgo/testutil"
)

// TestE2E_VerifiedReads runs the read path with digest verification forced
// on. Chunks with a matching digest are served and cached; the chunk whose
// digest disagrees fails every read and never becomes resident.
func TestE2E_VerifiedReads(t *testing.T) {
	ctx := context.Background()
	const (
		chunkSize = 4 << 10
		numChunks = 4
	)

	cc, err := chunkgo.New(chunkgo.WithCapacity(8 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cc.Close()) })

	store := blobstore.NewLocalStore(t.TempDir())

	const name = "tables/003-data.db"
	src := make([]byte, numChunks*chunkSize)
	testutil.NewRNG(7).FillBytes(src)
	require.NoError(t, store.Put(ctx, name, src))

	blob, err := store.Open(ctx, name)
	require.NoError(t, err)

	table := crc32.MakeTable(crc32.Castagnoli)
	digests := make([]uint32, numChunks)
	for i := range digests {
		digests[i] = crc32.Checksum(src[i*chunkSize:(i+1)*chunkSize], table)
	}
	// Flip bits in one stored digest to simulate on-disk corruption.
	digests[2] ^= 0xDEADBEEF

	base, err := blobstore.NewChunkReader(name, blob, chunkSize)
	require.NoError(t, err)

	reb := cc.MaybeWrap(chunkgo.NewVerifyingChunkReader(base, digests, 1.0))
	t.Cleanup(func() { require.NoError(t, reb.Close()) })

	// Intact chunks verify, serve the written bytes, and become resident.
	for _, ordinal := range []int64{0, 1, 3} {
		buf, err := reb.Rebuffer(ctx, ordinal*chunkSize)
		require.NoError(t, err)
		assert.Equal(t, ordinal*chunkSize, buf.Offset())
		assert.True(t, bytes.Equal(src[ordinal*chunkSize:(ordinal+1)*chunkSize], buf.Bytes()))
		buf.Release()
	}
	assert.Equal(t, int64(3*chunkSize), cc.SizeOfFile(name))

	// The corrupt chunk fails with the digest pair and stays out of the
	// cache, so a retry fails the same way instead of serving bad bytes.
	for i := 0; i < 2; i++ {
		_, err = reb.Rebuffer(ctx, 2*chunkSize)
		var corr *chunkgo.ChunkCorruptionError
		require.ErrorAs(t, err, &corr)
		assert.Equal(t, name, corr.Path)
		assert.Equal(t, int64(2*chunkSize), corr.Offset)
		assert.NotEqual(t, corr.Expected, corr.Actual)
	}
	assert.Equal(t, int64(3*chunkSize), cc.SizeOfFile(name))
	assert.Equal(t, 3, cc.Stats().Entries)
}
