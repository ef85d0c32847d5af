package chunkgo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgo/internal/bufpool"
)

func TestBuffer_ReleaseFreesExactlyOnce(t *testing.T) {
	pool := bufpool.New()
	defer pool.Close()

	block, err := pool.Get(4096)
	require.NoError(t, err)

	buf := newPooledBuffer(pool, block, 4096, 8192)
	require.True(t, buf.tryAcquire())

	buf.Release()
	assert.NotNil(t, buf.Bytes(), "still referenced after the first release")
	assert.Equal(t, int64(0), pool.Stats().BytesFree)

	buf.Release()
	assert.Nil(t, buf.Bytes())
	assert.Equal(t, int64(4096), pool.Stats().BytesFree, "final release returns the block")
}

func TestBuffer_TryAcquireFailsAfterFree(t *testing.T) {
	buf := newHeapBuffer(make([]byte, 128), 0)

	require.True(t, buf.tryAcquire())
	buf.Release()
	buf.Release()

	assert.False(t, buf.tryAcquire())
}

func TestBuffer_OverReleasePanics(t *testing.T) {
	buf := newHeapBuffer(make([]byte, 128), 0)
	buf.Release()

	assert.PanicsWithValue(t, "chunkgo: buffer over-released (refs -1)", func() {
		buf.Release()
	})
}

func TestBuffer_Accessors(t *testing.T) {
	data := make([]byte, 100, 128)
	buf := newHeapBuffer(data, 64<<10)

	assert.Equal(t, int64(64<<10), buf.Offset())
	assert.Len(t, buf.Bytes(), 100)
	assert.Equal(t, 128, buf.Cap())
	assert.Equal(t, int64(128), buf.Weight())

	buf.Release()
}

func TestBuffer_ConcurrentAcquireRelease(t *testing.T) {
	pool := bufpool.New()
	defer pool.Close()

	block, err := pool.Get(4096)
	require.NoError(t, err)

	buf := newPooledBuffer(pool, block, 4096, 0)

	const goroutines = 8
	const iters = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				if buf.tryAcquire() {
					_ = buf.Bytes()[0]
					buf.Release()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), buf.refCount(), "only the initial reference remains")
	buf.Release()
	assert.Equal(t, int64(4096), pool.Stats().BytesFree)
}
