package chunkgo

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chunkgo/internal/bufpool"
	"github.com/hupe1980/chunkgo/internal/cache"
	"github.com/hupe1980/chunkgo/internal/resource"
)

// minShardCapacity is the smallest weighted budget a derived shard may
// hold. Shard derivation halves the count until every shard clears it.
const minShardCapacity = 8 << 20

// Cache is a capacity-bounded cache of fixed-size file chunks held in
// reference counted off-heap buffers. Readers attach through MaybeWrap,
// which wraps a ChunkReader into a Rebufferer serving chunk-aligned
// buffers out of the cache.
//
// Entries are keyed by (path, offset, chunk size), so they survive the
// reader that loaded them and are shared by every reader of the same
// file. All methods are safe for concurrent use.
type Cache struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	enabled atomic.Bool
	closed  atomic.Bool

	rc    *resource.Controller
	pool  *bufpool.Pool
	store *cache.Store
	index *cache.FileIndex

	shardCapacity int64

	intercept atomic.Pointer[func(Rebufferer) Rebufferer]

	testHookRemoval func(cache.Key)
}

// CacheStats is a point-in-time snapshot of cache and allocator usage.
type CacheStats struct {
	Entries      int   // resident chunks
	WeightedSize int64 // bytes held by resident chunks
	Capacity     int64 // configured capacity in bytes
	Hits         int64 // lookups served from the cache
	Misses       int64 // lookups that went through a load
	PoolMapped   int64 // bytes mapped under the allocator budget
	PoolOverflow int64 // bytes mapped outside the budget
	PoolFree     int64 // idle bytes in allocator free lists
}

// New creates a chunk cache.
//
// With the default options the cache holds up to DefaultCapacity bytes of
// chunks. WithCapacity(0) builds a permanently disabled cache whose
// MaybeWrap only hands out pass-through rebufferers.
func New(optFns ...Option) (*Cache, error) {
	o := applyOptions(optFns)

	if o.capacity < 0 {
		return nil, fmt.Errorf("chunkgo: invalid capacity %d", o.capacity)
	}

	c := &Cache{
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	if o.capacity == 0 {
		c.logger.Info("chunk cache disabled", slog.Int64("capacity", 0))
		return c, nil
	}

	shards := o.shards
	if shards <= 0 {
		shards = deriveShards(o.capacity)
	}

	c.shardCapacity = o.capacity / int64(shards)
	if c.shardCapacity < 1 {
		c.shardCapacity = 1
	}

	c.rc = resource.NewController(resource.Config{
		MemoryLimitBytes: o.capacity + o.poolHeadroom,
	})

	c.pool = bufpool.New(
		bufpool.WithBudget(c.rc),
		bufpool.WithOverflowHandler(func(requested int) {
			c.logger.Warn("chunk cache memory budget exhausted, allocating past it",
				slog.Int64("budget", o.capacity+o.poolHeadroom),
				slog.Int("requested", requested),
			)
		}),
	)

	c.index = &cache.FileIndex{}

	c.store = cache.NewStore(cache.Config{
		Capacity:  o.capacity,
		Shards:    shards,
		OnInstall: c.onInstall,
		OnRemoval: c.onRemoval,
		OnDiscard: c.onDiscard,
	})

	c.enabled.Store(!o.disabled)

	c.logger.Info("chunk cache initialized",
		slog.Int64("capacity", o.capacity),
		slog.Int("shards", shards),
		slog.Bool("enabled", c.enabled.Load()),
	)

	return c, nil
}

// deriveShards picks a power-of-two shard count sized to the host, then
// halves it until every shard keeps at least minShardCapacity.
func deriveShards(capacity int64) int {
	target := runtime.GOMAXPROCS(0) * 4

	shards := 1
	for shards < target {
		shards <<= 1
	}
	for shards > 1 && capacity/int64(shards) < minShardCapacity {
		shards >>= 1
	}
	return shards
}

// MaybeWrap wraps reader so its chunks are served through the cache.
// When the cache is disabled, and for files whose chunk size could never
// fit a shard, the returned Rebufferer reads through without caching.
//
// The reader's chunk size must be a power of two; anything else is a
// configuration error and panics.
func (c *Cache) MaybeWrap(reader ChunkReader) Rebufferer {
	chunkSize := reader.ChunkSize()
	if chunkSize <= 0 || chunkSize&(chunkSize-1) != 0 {
		panic(fmt.Sprintf("chunkgo: chunk size %d is not a power of two", chunkSize))
	}
	alignMask := int64(chunkSize - 1)

	if !c.Enabled() {
		return &rawRebufferer{cache: c, reader: reader, alignMask: alignMask}
	}

	if int64(chunkSize) > c.shardCapacity {
		c.logger.WithPath(reader.Path()).WithChunkSize(chunkSize).Warn(
			"chunk size exceeds shard capacity, file reads bypass the cache",
			slog.Int64("shard_capacity", c.shardCapacity),
		)
		return &rawRebufferer{cache: c, reader: reader, alignMask: alignMask}
	}

	var r Rebufferer = &cachingRebufferer{cache: c, reader: reader, alignMask: alignMask}
	if fn := c.intercept.Load(); fn != nil {
		r = (*fn)(r)
	}
	return r
}

// Intercept installs a hook applied to every Rebufferer MaybeWrap builds
// on the caching path. Passing nil removes the hook. Intended for tests
// that interpose on the read path.
func (c *Cache) Intercept(fn func(Rebufferer) Rebufferer) {
	if fn == nil {
		c.intercept.Store(nil)
		return
	}
	c.intercept.Store(&fn)
}

// rebuffer serves the chunk at the aligned position, loading it through
// reader on a miss. The returned buffer carries a reference owned by the
// caller.
func (c *Cache) rebuffer(ctx context.Context, reader ChunkReader, aligned int64) (*Buffer, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	key := cache.NewKey(reader.Path(), aligned, int32(reader.ChunkSize()))

	for attempt := 0; attempt < c.opts.acquireRetries; attempt++ {
		v, loaded, err := c.store.GetOrLoad(ctx, key, func(ctx context.Context) (cache.Value, error) {
			return c.load(ctx, reader, key)
		})
		if err != nil {
			c.metrics.RecordRebuffer(false, time.Since(start), err)
			return nil, err
		}

		// A load can finish after Close has already drained the store.
		// Back the entry out so a closed cache retains nothing.
		if loaded && c.closed.Load() {
			c.store.Invalidate(key)
			c.metrics.RecordRebuffer(false, time.Since(start), ErrClosed)
			return nil, ErrClosed
		}

		// The store's reference keeps a resident buffer alive, so this
		// only fails when the entry was evicted and fully released
		// between lookup and acquire. The next attempt loads it afresh.
		buf := v.(*Buffer)
		if buf.tryAcquire() {
			c.metrics.RecordRebuffer(!loaded, time.Since(start), nil)
			return buf, nil
		}
	}

	aerr := &AcquireError{
		Path:     reader.Path(),
		Offset:   aligned,
		Attempts: c.opts.acquireRetries,
	}
	c.logger.WithPath(reader.Path()).WithOffset(aligned).Error("chunk acquire retries exhausted",
		slog.Int("attempts", aerr.Attempts),
	)
	c.metrics.RecordRebuffer(false, time.Since(start), aerr)
	return nil, aerr
}

// load reads one chunk into a pool block. The store installs the returned
// buffer and takes over its initial reference once this returns; the file
// index learns about the chunk at install time, not here.
func (c *Cache) load(ctx context.Context, reader ChunkReader, key cache.Key) (cache.Value, error) {
	block, err := c.pool.Get(reader.ChunkSize())
	if err != nil {
		return nil, fmt.Errorf("chunkgo: allocate chunk buffer: %w", err)
	}

	start := time.Now()
	n, err := reader.ReadChunk(ctx, key.Offset(), block.Bytes())
	c.metrics.RecordLoad(n, time.Since(start), err)
	c.logger.LogLoad(ctx, key.Path(), key.Offset(), n, err)

	if err != nil {
		c.pool.Put(block)
		return nil, err
	}

	return newPooledBuffer(c.pool, block, n, key.Offset()), nil
}

// rebufferRaw reads the chunk at the aligned position into a sole-owner
// buffer without touching the cache.
func (c *Cache) rebufferRaw(ctx context.Context, reader ChunkReader, aligned int64) (*Buffer, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	chunkSize := reader.ChunkSize()

	if c.pool != nil {
		block, err := c.pool.Get(chunkSize)
		if err != nil {
			return nil, fmt.Errorf("chunkgo: allocate chunk buffer: %w", err)
		}

		start := time.Now()
		n, err := reader.ReadChunk(ctx, aligned, block.Bytes())
		c.metrics.RecordLoad(n, time.Since(start), err)
		if err != nil {
			c.pool.Put(block)
			return nil, err
		}

		return newPooledBuffer(c.pool, block, n, aligned), nil
	}

	data := make([]byte, chunkSize)

	start := time.Now()
	n, err := reader.ReadChunk(ctx, aligned, data)
	c.metrics.RecordLoad(n, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return newHeapBuffer(data[:n:chunkSize], aligned), nil
}

// onInstall runs under a shard lock for every entry admitted to the
// store. Registering the key here makes admission and registration one
// step: an invalidation sweep that collects the key from the index is
// guaranteed to find the entry in the store.
func (c *Cache) onInstall(key cache.Key) {
	c.index.Add(key)
}

// onRemoval runs under a shard lock for every entry leaving the store.
// The store's reference is dropped before the index entry, so a reader
// that raced the removal and lost its acquire re-lands on a clean miss.
func (c *Cache) onRemoval(key cache.Key, v cache.Value, cause cache.RemovalCause) {
	buf := v.(*Buffer)
	w := buf.Weight()
	buf.Release()
	c.index.Remove(key)

	if cause == cache.CauseEvicted {
		c.metrics.RecordEviction(w)
	}

	if h := c.testHookRemoval; h != nil {
		h(key)
	}
}

// onDiscard releases a freshly loaded buffer that lost an install race.
func (c *Cache) onDiscard(v cache.Value) {
	v.(*Buffer).Release()
}

func (c *Cache) invalidateChunk(path string, aligned int64, chunkSize int32) {
	if c.store == nil {
		return
	}
	c.store.Invalidate(cache.NewKey(path, aligned, chunkSize))
}

// InvalidateFile drops every cached chunk of path. References already
// handed out stay valid until released. Chunks whose loads complete after
// the call stay resident and registered, so the next invalidation of the
// path removes them.
func (c *Cache) InvalidateFile(path string) {
	if c.store == nil {
		return
	}

	keys := c.index.RemoveFile(path)
	for _, key := range keys {
		c.store.Invalidate(key)
	}

	c.metrics.RecordInvalidate(len(keys))
	c.logger.LogInvalidateFile(path, len(keys))
}

// InvalidateAll drops every cached chunk. The file index is emptied
// first so concurrent per-file invalidations cannot resurrect keys for
// entries this call is about to remove.
func (c *Cache) InvalidateAll() {
	if c.store == nil {
		return
	}

	chunks := c.store.Size()
	c.index.Clear()
	c.store.InvalidateAll()
	c.metrics.RecordInvalidate(chunks)
}

// Enabled reports whether MaybeWrap currently wraps readers with caching.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// Enable switches caching on or off for subsequently wrapped readers.
// Disabling drops all resident entries. A cache built with capacity 0
// has nothing to enable and ignores the call.
func (c *Cache) Enable(enabled bool) {
	if c.store == nil {
		return
	}

	if c.enabled.Swap(enabled) && !enabled {
		c.InvalidateAll()
	}
}

// Size returns the number of resident chunks. Approximate while loads and
// evictions are in flight.
func (c *Cache) Size() int {
	if c.store == nil {
		return 0
	}
	return c.store.Size()
}

// WeightedSize returns the bytes held by resident chunks. Approximate
// while loads and evictions are in flight.
func (c *Cache) WeightedSize() int64 {
	if c.store == nil {
		return 0
	}
	return c.store.WeightedSize()
}

// Capacity returns the configured capacity in bytes.
func (c *Cache) Capacity() int64 {
	return c.opts.capacity
}

// SetCapacity is not supported. The capacity backs preallocated budget
// accounting and is fixed for the cache's lifetime.
func (c *Cache) SetCapacity(capacity int64) error {
	return ErrCapacityImmutable
}

// SizeOfFile returns the bytes cached for path.
func (c *Cache) SizeOfFile(path string) int64 {
	if c.index == nil {
		return 0
	}
	return c.index.SizeOfFile(path)
}

// Stats returns a snapshot of cache and allocator usage.
func (c *Cache) Stats() CacheStats {
	s := CacheStats{Capacity: c.opts.capacity}
	if c.store != nil {
		s.Entries = c.store.Size()
		s.WeightedSize = c.store.WeightedSize()
		s.Hits, s.Misses = c.store.Stats()
	}
	if c.pool != nil {
		ps := c.pool.Stats()
		s.PoolMapped = ps.BytesMapped
		s.PoolOverflow = ps.BytesOverflow
		s.PoolFree = ps.BytesFree
	}
	return s
}
