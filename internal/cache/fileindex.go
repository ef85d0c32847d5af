package cache

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// FileIndex tracks which chunks of each file are resident, keyed by path.
// It exists so that dropping a file touches exactly that file's keys
// instead of scanning the whole store.
//
// Chunk offsets are stored as ordinals (offset divided by chunk size) in a
// compressed bitmap per chunk size. Files of a storage engine are read
// with a single chunk size, so the inner map almost always has one entry;
// keying by size keeps the index correct if a path is ever reopened with
// a different one.
type FileIndex struct {
	files sync.Map // string -> *fileEntry
}

// fileEntry is the per-file chunk set. The mutex serializes mutations of
// one file; dead marks an entry that has been detached from the map and
// must not be written to again.
type fileEntry struct {
	mu   sync.Mutex
	dead bool
	sets map[int32]*roaring64.Bitmap
}

// Add records key's chunk as resident. Safe for concurrent use with
// Remove and RemoveFile on the same path.
func (idx *FileIndex) Add(key Key) {
	ord := uint64(key.Offset() / int64(key.ChunkSize()))

	for {
		e := idx.entry(key.Path())

		e.mu.Lock()
		if e.dead {
			// Lost a race with RemoveFile. The detached entry is about
			// to leave the map; retry onto a fresh one.
			e.mu.Unlock()
			continue
		}

		bm := e.sets[key.ChunkSize()]
		if bm == nil {
			bm = roaring64.New()
			e.sets[key.ChunkSize()] = bm
		}
		bm.Add(ord)
		e.mu.Unlock()
		return
	}
}

// Remove drops key's chunk from the index. Empty per-file entries are
// removed from the map so the index does not accumulate dead files.
func (idx *FileIndex) Remove(key Key) {
	v, ok := idx.files.Load(key.Path())
	if !ok {
		return
	}
	e := v.(*fileEntry)

	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return
	}

	if bm := e.sets[key.ChunkSize()]; bm != nil {
		bm.Remove(uint64(key.Offset() / int64(key.ChunkSize())))
		if bm.IsEmpty() {
			delete(e.sets, key.ChunkSize())
		}
	}

	empty := len(e.sets) == 0
	if empty {
		e.dead = true
	}
	e.mu.Unlock()

	if empty {
		idx.files.CompareAndDelete(key.Path(), v)
	}
}

// RemoveFile detaches the entry for path and returns the keys of every
// chunk that was recorded before the call. The caller sweeps those keys
// through the store; no index lock is held by then, so removal callbacks
// may re-enter the index freely.
//
// Chunks whose installs only run after RemoveFile has detached the entry
// register on a fresh entry and stay resident, collectable by the next
// sweep.
func (idx *FileIndex) RemoveFile(path string) []Key {
	v, ok := idx.files.LoadAndDelete(path)
	if !ok {
		return nil
	}
	e := v.(*fileEntry)

	e.mu.Lock()
	e.dead = true

	var keys []Key
	for chunkSize, bm := range e.sets {
		it := bm.Iterator()
		for it.HasNext() {
			ord := it.Next()
			keys = append(keys, NewKey(path, int64(ord)*int64(chunkSize), chunkSize))
		}
	}
	e.sets = nil
	e.mu.Unlock()

	return keys
}

// SizeOfFile returns the weighted bytes of resident chunks recorded for
// path.
func (idx *FileIndex) SizeOfFile(path string) int64 {
	v, ok := idx.files.Load(path)
	if !ok {
		return 0
	}
	e := v.(*fileEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	var n int64
	for chunkSize, bm := range e.sets {
		n += int64(bm.GetCardinality()) * int64(chunkSize)
	}
	return n
}

// Clear detaches every entry. Used when the whole store is being dropped;
// the caller is expected to drain the store afterwards.
func (idx *FileIndex) Clear() {
	idx.files.Range(func(key, value any) bool {
		e := value.(*fileEntry)
		e.mu.Lock()
		e.dead = true
		e.sets = nil
		e.mu.Unlock()
		idx.files.CompareAndDelete(key, value)
		return true
	})
}

// Len returns the number of files with recorded chunks.
func (idx *FileIndex) Len() int {
	n := 0
	idx.files.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (idx *FileIndex) entry(path string) *fileEntry {
	if v, ok := idx.files.Load(path); ok {
		return v.(*fileEntry)
	}
	v, _ := idx.files.LoadOrStore(path, &fileEntry{sets: make(map[int32]*roaring64.Bitmap)})
	return v.(*fileEntry)
}
