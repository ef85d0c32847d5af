package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	id     int
	weight int64
}

func (v *testValue) Weight() int64 { return v.weight }

type removal struct {
	key   Key
	value Value
	cause RemovalCause
}

type removalRecorder struct {
	mu      sync.Mutex
	removed []removal
}

func (r *removalRecorder) listener() func(Key, Value, RemovalCause) {
	return func(k Key, v Value, c RemovalCause) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removed = append(r.removed, removal{key: k, value: v, cause: c})
	}
}

func (r *removalRecorder) snapshot() []removal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]removal(nil), r.removed...)
}

func loadValue(v Value) func(context.Context) (Value, error) {
	return func(context.Context) (Value, error) { return v, nil }
}

func TestStore_GetOrLoad(t *testing.T) {
	s := NewStore(Config{Capacity: 1024, Shards: 1})

	key := NewKey("data/chunk.db", 0, 256)
	want := &testValue{id: 1, weight: 256}

	// Miss loads.
	v, loaded, err := s.GetOrLoad(t.Context(), key, loadValue(want))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Same(t, want, v)

	// Hit returns the resident value without loading.
	v, loaded, err = s.GetOrLoad(t.Context(), key, func(context.Context) (Value, error) {
		t.Fatal("load called on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Same(t, want, v)

	hits, misses := s.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	assert.Equal(t, 1, s.Size())
	assert.Equal(t, int64(256), s.WeightedSize())
	assert.Equal(t, int64(1024), s.Capacity())
}

func TestStore_GetOrLoad_CoalescesConcurrentLoads(t *testing.T) {
	s := NewStore(Config{Capacity: 1024, Shards: 4})

	key := NewKey("data/chunk.db", 4096, 4096)
	want := &testValue{id: 7, weight: 4096}

	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	load := func(context.Context) (Value, error) {
		loads.Add(1)
		close(started)
		<-release
		return want, nil
	}

	const readers = 8
	results := make([]Value, readers)

	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := s.GetOrLoad(context.Background(), key, load)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = v
		}(i)
	}

	<-started
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for i := 0; i < readers; i++ {
		assert.Same(t, want, results[i])
	}
}

func TestStore_GetOrLoad_LoadError(t *testing.T) {
	s := NewStore(Config{Capacity: 1024, Shards: 1})

	key := NewKey("data/chunk.db", 0, 256)
	wantErr := errors.New("read failed: checksum mismatch")

	_, _, err := s.GetOrLoad(t.Context(), key, func(context.Context) (Value, error) {
		return nil, wantErr
	})
	// The load error comes back untouched.
	assert.Equal(t, wantErr, err)

	// Nothing was installed.
	_, ok := s.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Size())

	// A later load can succeed.
	v, loaded, err := s.GetOrLoad(t.Context(), key, loadValue(&testValue{id: 2, weight: 256}))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.NotNil(t, v)
}

func TestStore_Eviction_LRU(t *testing.T) {
	rec := &removalRecorder{}
	s := NewStore(Config{
		Capacity:  512,
		Shards:    1,
		OnRemoval: rec.listener(),
	})

	keyA := NewKey("a.db", 0, 256)
	keyB := NewKey("a.db", 256, 256)
	keyC := NewKey("a.db", 512, 256)

	valA := &testValue{id: 1, weight: 256}
	valB := &testValue{id: 2, weight: 256}
	valC := &testValue{id: 3, weight: 256}

	_, _, err := s.GetOrLoad(t.Context(), keyA, loadValue(valA))
	require.NoError(t, err)
	_, _, err = s.GetOrLoad(t.Context(), keyB, loadValue(valB))
	require.NoError(t, err)

	// Touch A so B is the LRU victim.
	_, ok := s.Get(keyA)
	require.True(t, ok)

	_, _, err = s.GetOrLoad(t.Context(), keyC, loadValue(valC))
	require.NoError(t, err)

	removed := rec.snapshot()
	require.Len(t, removed, 1)
	assert.Equal(t, keyB, removed[0].key)
	assert.Same(t, valB, removed[0].value)
	assert.Equal(t, CauseEvicted, removed[0].cause)

	_, ok = s.Get(keyA)
	assert.True(t, ok)
	_, ok = s.Get(keyB)
	assert.False(t, ok)
	_, ok = s.Get(keyC)
	assert.True(t, ok)

	assert.Equal(t, int64(512), s.WeightedSize())
}

func TestStore_OversizedEntryAdmitted(t *testing.T) {
	rec := &removalRecorder{}
	s := NewStore(Config{
		Capacity:  256,
		Shards:    1,
		OnRemoval: rec.listener(),
	})

	big := NewKey("big.db", 0, 1024)
	bigVal := &testValue{id: 1, weight: 1024}

	v, _, err := s.GetOrLoad(t.Context(), big, loadValue(bigVal))
	require.NoError(t, err)
	assert.Same(t, bigVal, v)
	assert.Equal(t, int64(1024), s.WeightedSize())

	// The oversized entry is the next victim.
	small := NewKey("small.db", 0, 128)
	_, _, err = s.GetOrLoad(t.Context(), small, loadValue(&testValue{id: 2, weight: 128}))
	require.NoError(t, err)

	removed := rec.snapshot()
	require.Len(t, removed, 1)
	assert.Equal(t, big, removed[0].key)
	assert.Equal(t, int64(128), s.WeightedSize())
}

func TestStore_InstallRace_DiscardsLoser(t *testing.T) {
	var discarded []Value
	s := NewStore(Config{
		Capacity: 1024,
		Shards:   1,
		OnDiscard: func(v Value) {
			discarded = append(discarded, v)
		},
	})

	key := NewKey("data/chunk.db", 0, 256)
	winner := &testValue{id: 1, weight: 256}
	loser := &testValue{id: 2, weight: 256}

	sh := s.shard(key)
	assert.Same(t, winner, sh.install(key, winner))

	// A second install for the same key keeps the resident value and
	// discards the new one.
	assert.Same(t, winner, sh.install(key, loser))

	require.Len(t, discarded, 1)
	assert.Same(t, loser, discarded[0])
	assert.Equal(t, 1, s.Size())
}

func TestStore_OnInstall(t *testing.T) {
	var installed []Key
	s := NewStore(Config{
		Capacity:  1024,
		Shards:    1,
		OnInstall: func(k Key) { installed = append(installed, k) },
		OnDiscard: func(Value) {},
	})

	key := NewKey("data/chunk.db", 0, 256)

	// A fresh admission is observed.
	_, _, err := s.GetOrLoad(t.Context(), key, loadValue(&testValue{id: 1, weight: 256}))
	require.NoError(t, err)
	assert.Equal(t, []Key{key}, installed)

	// Hits are not.
	_, _, err = s.GetOrLoad(t.Context(), key, loadValue(&testValue{id: 2, weight: 256}))
	require.NoError(t, err)
	assert.Len(t, installed, 1)

	// Install-race losers are not.
	s.shard(key).install(key, &testValue{id: 3, weight: 256})
	assert.Len(t, installed, 1)

	// Failed loads are not.
	bad := NewKey("data/chunk.db", 256, 256)
	_, _, err = s.GetOrLoad(t.Context(), bad, func(context.Context) (Value, error) {
		return nil, errors.New("load failed")
	})
	require.Error(t, err)
	assert.Len(t, installed, 1)
}

func TestStore_SweepDuringLoad_NextSweepDrains(t *testing.T) {
	idx := &FileIndex{}
	s := NewStore(Config{
		Capacity:  1 << 20,
		Shards:    1,
		OnInstall: idx.Add,
		OnRemoval: func(k Key, _ Value, _ RemovalCause) { idx.Remove(k) },
	})

	sweep := func() int {
		keys := idx.RemoveFile("data/f.db")
		for _, k := range keys {
			s.Invalidate(k)
		}
		return len(keys)
	}

	key := NewKey("data/f.db", 0, 4096)

	// A sweep lands in the narrowest possible gap: after the loader has
	// produced the value, immediately before the store admits it.
	_, loaded, err := s.GetOrLoad(t.Context(), key, func(context.Context) (Value, error) {
		assert.Equal(t, 0, sweep(), "nothing is registered before admission")
		return &testValue{id: 1, weight: 4096}, nil
	})
	require.NoError(t, err)
	require.True(t, loaded)

	// Admission registered the chunk, so it is resident and findable.
	_, ok := s.Get(key)
	assert.True(t, ok)
	assert.Equal(t, int64(4096), idx.SizeOfFile("data/f.db"))

	// The next sweep collects and removes it; nothing is stranded.
	assert.Equal(t, 1, sweep())
	_, ok = s.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, int64(0), idx.SizeOfFile("data/f.db"))
}

func TestStore_SweepRace_NothingStranded(t *testing.T) {
	idx := &FileIndex{}
	s := NewStore(Config{
		Capacity:  1 << 20,
		Shards:    4,
		OnInstall: idx.Add,
		OnRemoval: func(k Key, _ Value, _ RemovalCause) { idx.Remove(k) },
	})

	sweep := func() {
		for _, k := range idx.RemoveFile("data/f.db") {
			s.Invalidate(k)
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Loaders keep repopulating the file while a sweeper keeps dropping it.
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				key := NewKey("data/f.db", int64(i%16)*4096, 4096)
				_, _, _ = s.GetOrLoad(context.Background(), key, loadValue(&testValue{id: g, weight: 4096}))
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			sweep()
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	// With the loaders quiet, a single sweep drains every resident chunk:
	// whatever is resident is registered.
	sweep()
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, int64(0), idx.SizeOfFile("data/f.db"))
}

func TestStore_Invalidate(t *testing.T) {
	rec := &removalRecorder{}
	s := NewStore(Config{
		Capacity:  1024,
		Shards:    1,
		OnRemoval: rec.listener(),
	})

	key := NewKey("data/chunk.db", 0, 256)
	val := &testValue{id: 1, weight: 256}

	_, _, err := s.GetOrLoad(t.Context(), key, loadValue(val))
	require.NoError(t, err)

	assert.True(t, s.Invalidate(key))
	assert.False(t, s.Invalidate(key))

	removed := rec.snapshot()
	require.Len(t, removed, 1)
	assert.Equal(t, CauseInvalidated, removed[0].cause)
	assert.Same(t, val, removed[0].value)

	assert.Equal(t, 0, s.Size())
	assert.Equal(t, int64(0), s.WeightedSize())
}

func TestStore_InvalidateAll(t *testing.T) {
	rec := &removalRecorder{}
	s := NewStore(Config{
		Capacity:  1 << 20,
		Shards:    8,
		OnRemoval: rec.listener(),
	})

	for i := 0; i < 64; i++ {
		key := NewKey("data/chunk.db", int64(i)*256, 256)
		_, _, err := s.GetOrLoad(t.Context(), key, loadValue(&testValue{id: i, weight: 256}))
		require.NoError(t, err)
	}
	require.Equal(t, 64, s.Size())

	s.InvalidateAll()

	assert.Equal(t, 0, s.Size())
	assert.Equal(t, int64(0), s.WeightedSize())
	assert.Len(t, rec.snapshot(), 64)
	for _, r := range rec.snapshot() {
		assert.Equal(t, CauseInvalidated, r.cause)
	}
}

func TestStore_ShardedCapacityBound(t *testing.T) {
	s := NewStore(Config{Capacity: 64 * 256, Shards: 8})

	// Insert far more than fits; the store must stay under capacity.
	for i := 0; i < 1024; i++ {
		key := NewKey("data/chunk.db", int64(i)*256, 256)
		_, _, err := s.GetOrLoad(t.Context(), key, loadValue(&testValue{id: i, weight: 256}))
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, s.WeightedSize(), s.Capacity())
	assert.Greater(t, s.Size(), 0)
}

func BenchmarkStore_GetOrLoad(b *testing.B) {
	s := NewStore(Config{Capacity: 64 << 20})
	ctx := context.Background()
	key := NewKey("data/chunk.db", 0, 4096)
	loader := loadValue(&testValue{id: 1, weight: 4096})
	if _, _, err := s.GetOrLoad(ctx, key, loader); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.GetOrLoad(ctx, key, loader)
		}
	})
}

func BenchmarkStore_GetOrLoad_Sharded(b *testing.B) {
	s := NewStore(Config{Capacity: 64 << 20, Shards: 16})
	ctx := context.Background()
	key := NewKey("data/chunk.db", 0, 4096)
	loader := loadValue(&testValue{id: 1, weight: 4096})
	if _, _, err := s.GetOrLoad(ctx, key, loader); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.GetOrLoad(ctx, key, loader)
		}
	})
}

func BenchmarkStore_GetOrLoad_Mixed(b *testing.B) {
	s := NewStore(Config{Capacity: 64 << 20, Shards: 16})
	ctx := context.Background()
	loader := loadValue(&testValue{id: 1, weight: 4096})

	// Pre-populate
	keys := make([]Key, 1000)
	for i := range keys {
		keys[i] = NewKey(fmt.Sprintf("data/%03d.db", i%10), int64(i)*4096, 4096)
		if _, _, err := s.GetOrLoad(ctx, keys[i], loader); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.GetOrLoad(ctx, keys[i%len(keys)], loader)
			i++
		}
	})
}
