// Package cache provides the storage layer of the chunk cache: a sharded,
// weighted LRU store for reference counted values plus a per-file index
// of resident chunks.
//
// # Store
//
// The Store splits its capacity across independent LRU shards, each a
// mutex, a map and an intrusive recency list. Shard selection uses the
// key's precomputed maphash, so the hot Get path is one short critical
// section. Misses go through singleflight: concurrent loads of the same
// chunk collapse into one disk read.
//
// Values are reference counted by their owner. The store holds exactly
// one reference per resident entry and hands it back through the removal
// listener; readers take their own references before using a value.
//
// # File Index
//
// Dropping a file (compaction, snapshot cleanup) must not scan millions
// of resident entries. The FileIndex maps each path to a compressed
// bitmap of resident chunk ordinals, so whole-file invalidation resolves
// to exactly the keys that need sweeping.
//
// # Lock Order
//
// Shard mutex, then file entry mutex. Removal listeners run with the
// shard lock held and may touch the index; index mutation never reaches
// back into a shard.
package cache
