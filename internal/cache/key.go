package cache

import (
	"encoding/binary"
	"hash/maphash"
	"unique"
)

// keySeed is fixed at process start so a key hashes identically everywhere
// it is used (shard selection, tests).
var keySeed = maphash.MakeSeed()

// Key identifies one chunk of one file. Keys are plain values: they carry
// no reference to the file handle they came from, so an entry can outlive
// the reader that created it. The path is interned, which keeps the
// millions of keys a large cache holds from duplicating path strings.
type Key struct {
	path      unique.Handle[string]
	offset    int64
	chunkSize int32
	hash      uint64
}

// NewKey builds a key for the chunk of the given size at the given aligned
// offset of path.
func NewKey(path string, offset int64, chunkSize int32) Key {
	var h maphash.Hash
	h.SetSeed(keySeed)
	_, _ = h.WriteString(path)

	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(offset))
	binary.LittleEndian.PutUint32(buf[8:], uint32(chunkSize))
	_, _ = h.Write(buf[:])

	return Key{
		path:      unique.Make(path),
		offset:    offset,
		chunkSize: chunkSize,
		hash:      h.Sum64(),
	}
}

// Path returns the file path the key refers to.
func (k Key) Path() string { return k.path.Value() }

// Offset returns the chunk-aligned file offset.
func (k Key) Offset() int64 { return k.offset }

// ChunkSize returns the chunk size the offset is aligned to.
func (k Key) ChunkSize() int32 { return k.chunkSize }

// Hash returns the precomputed hash used for shard selection.
func (k Key) Hash() uint64 { return k.hash }
