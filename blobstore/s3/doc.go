// Package s3 provides S3 implementations of the blobstore.BlobStore
// interface: Store for standard S3 and ExpressStore for S3 Express One
// Zone directory buckets.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tables/"),
//	    s3.WithRegion("us-east-1"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	cached, err := blobstore.NewCachingStore(store, cache, 64<<10)
//
// Chunk-grained reads over S3 without a cache mean one ranged GET per
// chunk; putting a chunk cache in front keeps the hot set local and
// reserves round trips for misses.
//
// # Features
//
//   - Ranged GETs for partial fetches
//   - Multipart uploads with CRC32C integrity validation
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Conditional writes on ExpressStore for atomic marker files
package s3
