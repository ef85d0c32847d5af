package integration_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgo/blobstore"
	"github.com/hupe1980/chunkgo/testutil"
)

// TestE2E_BoundedChurn hammers a cache far smaller than the working set
// from several goroutines and checks that every read still returns the
// bytes written, and that the weighted size stays within capacity once
// the readers drain.
func TestE2E_BoundedChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping churn test in short mode")
	}

	ctx := context.Background()
	const (
		numFiles  = 4
		fileSize  = 1 << 20
		chunkSize = 4 << 10
		capacity  = 256 << 10
		readers   = 8
		reads     = 200
		readSize  = 16 << 10
	)

	store, cc := newCachedLocalStore(t, capacity, chunkSize)

	rng := testutil.NewRNG(99)
	files := make([][]byte, numFiles)
	blobs := make([]blobstore.Blob, numFiles)
	for i := range files {
		files[i] = make([]byte, fileSize)
		rng.FillBytes(files[i])
		name := fmt.Sprintf("tables/%03d-data.db", i)
		require.NoError(t, store.Put(ctx, name, files[i]))

		blob, err := store.Open(ctx, name)
		require.NoError(t, err)
		blobs[i] = blob
		t.Cleanup(func() { require.NoError(t, blob.Close()) })
	}

	var wg sync.WaitGroup
	errCh := make(chan error, readers)
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			rng := testutil.NewRNG(seed)
			offs := rng.ZipfOffsets(reads, (fileSize-readSize)/chunkSize, chunkSize, 1.2)
			buf := make([]byte, readSize)
			for _, off := range offs {
				f := rng.Intn(numFiles)
				n, err := blobs[f].ReadAt(ctx, buf, off)
				if err != nil {
					errCh <- fmt.Errorf("file %d offset %d: %w", f, off, err)
					return
				}
				if !bytes.Equal(files[f][off:off+int64(n)], buf[:n]) {
					errCh <- fmt.Errorf("file %d offset %d: content mismatch", f, off)
					return
				}
			}
		}(int64(r + 1))
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	stats := cc.Stats()
	assert.Positive(t, stats.Hits)
	assert.Positive(t, stats.Misses)
	assert.LessOrEqual(t, stats.WeightedSize, cc.Capacity())
	assert.LessOrEqual(t, int64(stats.Entries)*chunkSize, cc.Capacity())

	cc.InvalidateAll()
	assert.Zero(t, cc.Size())
	assert.Zero(t, cc.WeightedSize())
}
