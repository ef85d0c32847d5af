package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Value is the payload of a cache entry. Weight reports the bytes an entry
// is charged against the capacity.
type Value interface {
	Weight() int64
}

// RemovalCause tells the removal listener why an entry left the store.
type RemovalCause uint8

const (
	// CauseEvicted means the entry was removed to stay under capacity.
	CauseEvicted RemovalCause = iota + 1
	// CauseInvalidated means the entry was removed explicitly.
	CauseInvalidated
)

// Config configures a Store.
type Config struct {
	// Capacity is the weighted capacity in bytes, split evenly across shards.
	Capacity int64

	// Shards is the number of independent LRU shards. Defaults to 1.
	Shards int

	// OnInstall is called for every entry admitted to the store, with the
	// shard lock held. Admission and the callback are one step: no removal
	// of the entry can run between them. It must not call back into the
	// store.
	OnInstall func(Key)

	// OnRemoval is called for every entry that leaves the store, with the
	// shard lock held. It must not call back into the store.
	OnRemoval func(Key, Value, RemovalCause)

	// OnDiscard is called for a freshly loaded value that lost an install
	// race and was never owned by the store. It must not call back into
	// the store.
	OnDiscard func(Value)
}

// Store is a sharded, weighted, strict-LRU store for reference counted
// values. Loads for the same key are coalesced: concurrent misses share a
// single load and all receive the value it produced.
//
// The store owns one reference to every resident value. Ownership begins
// when install succeeds and ends inside the removal listener, which is
// where the owner releases that reference.
type Store struct {
	capacity int64
	shards   []*shard
	group    singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type shard struct {
	store     *Store
	capacity  int64
	mu        sync.Mutex
	weighted  int64
	items     map[Key]*list.Element
	evictList *list.List

	onInstall func(Key)
	onRemoval func(Key, Value, RemovalCause)
	onDiscard func(Value)
}

type entry struct {
	key   Key
	value Value
}

// NewStore creates a Store with the given configuration.
func NewStore(cfg Config) *Store {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}

	shardCapacity := cfg.Capacity / int64(cfg.Shards)
	if shardCapacity < 1 {
		shardCapacity = 1
	}

	s := &Store{
		capacity: cfg.Capacity,
		shards:   make([]*shard, cfg.Shards),
	}

	for i := range s.shards {
		s.shards[i] = &shard{
			store:     s,
			capacity:  shardCapacity,
			items:     make(map[Key]*list.Element),
			evictList: list.New(),
			onInstall: cfg.OnInstall,
			onRemoval: cfg.OnRemoval,
			onDiscard: cfg.OnDiscard,
		}
	}

	return s
}

func (s *Store) shard(key Key) *shard {
	return s.shards[key.Hash()%uint64(len(s.shards))]
}

// flightKey derives the coalescing key. Chunk size is included so the key
// space matches Key equality exactly.
func flightKey(key Key) string {
	path := key.Path()
	b := make([]byte, 0, len(path)+20)
	b = append(b, path...)
	b = append(b, ':')
	b = strconv.AppendInt(b, key.Offset(), 16)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(key.ChunkSize()), 16)
	return string(b)
}

type flightResult struct {
	value  Value
	loaded bool
}

// Get returns the value for key if resident, marking it recently used.
func (s *Store) Get(key Key) (Value, bool) {
	v, ok := s.shard(key).get(key)
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return v, ok
}

// GetOrLoad returns the resident value for key, or runs load to produce
// one and installs it. Concurrent callers for the same key share one load.
// The returned bool is true when the caller went through a load (its own
// or a shared one) rather than a direct hit.
//
// A load error is returned to every caller of the shared flight, exactly
// as the load returned it. Nothing is installed on error.
func (s *Store) GetOrLoad(ctx context.Context, key Key, load func(context.Context) (Value, error)) (Value, bool, error) {
	sh := s.shard(key)

	if v, ok := sh.get(key); ok {
		s.hits.Add(1)
		return v, false, nil
	}
	s.misses.Add(1)

	res, err, _ := s.group.Do(flightKey(key), func() (any, error) {
		// An earlier flight may have installed the value after our miss.
		if v, ok := sh.get(key); ok {
			return flightResult{value: v}, nil
		}

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return flightResult{value: sh.install(key, v), loaded: true}, nil
	})
	if err != nil {
		return nil, true, err
	}

	fr := res.(flightResult)
	return fr.value, true, nil
}

// Invalidate removes the entry for key. The removal listener observes the
// removal before Invalidate returns.
func (s *Store) Invalidate(key Key) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[key]; ok {
		sh.removeElement(el, CauseInvalidated)
		return true
	}
	return false
}

// InvalidateAll removes every entry. Shards are drained in parallel.
func (s *Store) InvalidateAll() {
	var wg sync.WaitGroup
	wg.Add(len(s.shards))

	for i := range s.shards {
		go func(sh *shard) {
			defer wg.Done()
			sh.invalidateAll()
		}(s.shards[i])
	}

	wg.Wait()
}

// Capacity returns the configured weighted capacity in bytes.
func (s *Store) Capacity() int64 {
	return s.capacity
}

// Size returns the number of resident entries.
func (s *Store) Size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// WeightedSize returns the total weight of resident entries in bytes.
func (s *Store) WeightedSize() int64 {
	var total int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += sh.weighted
		sh.mu.Unlock()
	}
	return total
}

// Stats returns hit/miss counters.
func (s *Store) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func (sh *shard) get(key Key) (Value, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[key]; ok {
		sh.evictList.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	return nil, false
}

// install admits a freshly loaded value. If the key is already resident
// the resident value wins and the new one is handed to OnDiscard.
// OnInstall observes the admission before the shard lock is released, so
// anything that saw the callback's effects can still find the entry.
func (sh *shard) install(key Key, v Value) Value {
	sh.mu.Lock()

	if el, ok := sh.items[key]; ok {
		existing := el.Value.(*entry).value
		sh.mu.Unlock()
		if sh.onDiscard != nil {
			sh.onDiscard(v)
		}
		return existing
	}

	w := v.Weight()

	// Evict before admitting. A value heavier than the whole shard is
	// still admitted and becomes the next eviction victim.
	for sh.weighted+w > sh.capacity {
		el := sh.evictList.Back()
		if el == nil {
			break
		}
		sh.removeElement(el, CauseEvicted)
	}

	el := sh.evictList.PushFront(&entry{key: key, value: v})
	sh.items[key] = el
	sh.weighted += w
	if sh.onInstall != nil {
		sh.onInstall(key)
	}
	sh.mu.Unlock()

	return v
}

func (sh *shard) invalidateAll() {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for sh.evictList.Len() > 0 {
		sh.removeElement(sh.evictList.Back(), CauseInvalidated)
	}
}

// removeElement unlinks an entry and notifies the removal listener.
// Callers must hold sh.mu.
func (sh *shard) removeElement(el *list.Element, cause RemovalCause) {
	sh.evictList.Remove(el)
	ent := el.Value.(*entry)
	delete(sh.items, ent.key)
	sh.weighted -= ent.value.Weight()

	if sh.onRemoval != nil {
		sh.onRemoval(ent.key, ent.value, cause)
	}
}
