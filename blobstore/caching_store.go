package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/chunkgo"
	"github.com/hupe1980/chunkgo/internal/resource"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCachingChunkSize = 64 << 10
	defaultFillParallelism  = 16
)

// CachingStore wraps a BlobStore so every opened blob reads through a
// shared chunk cache. Reads that span multiple chunks fill missing
// chunks in parallel, bounded by the fill parallelism. Put and Delete
// invalidate the cached chunks of the written blob.
type CachingStore struct {
	inner     BlobStore
	cache     *chunkgo.Cache
	chunkSize int
	fillLimit int
	rc        *resource.Controller
}

var _ BlobStore = (*CachingStore)(nil)

// CachingStoreOption configures a CachingStore.
type CachingStoreOption func(*CachingStore)

// WithFillParallelism bounds how many chunks a single multi-chunk read
// fills concurrently. The default is 16.
func WithFillParallelism(n int) CachingStoreOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.fillLimit = n
		}
	}
}

// WithIOLimit throttles traffic against the inner store, both cache-miss
// reads and writes, to the given throughput. Cache hits are not
// throttled.
func WithIOLimit(bytesPerSec int64) CachingStoreOption {
	return func(s *CachingStore) {
		if bytesPerSec > 0 {
			s.rc = resource.NewController(resource.Config{IOLimitBytesPerSec: bytesPerSec})
		}
	}
}

// NewCachingStore creates a CachingStore over inner using the given
// cache. chunkSize must be a power of two; it defaults to 64 KiB if
// zero or negative.
func NewCachingStore(inner BlobStore, cache *chunkgo.Cache, chunkSize int, optFns ...CachingStoreOption) (*CachingStore, error) {
	if chunkSize <= 0 {
		chunkSize = defaultCachingChunkSize
	}
	if chunkSize&(chunkSize-1) != 0 {
		return nil, fmt.Errorf("blobstore: chunk size %d is not a power of two", chunkSize)
	}
	s := &CachingStore{
		inner:     inner,
		cache:     cache,
		chunkSize: chunkSize,
		fillLimit: defaultFillParallelism,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s, nil
}

// Cache returns the shared chunk cache, for stats and invalidation.
func (s *CachingStore) Cache() *chunkgo.Cache {
	return s.cache
}

// Open opens a blob whose reads go through the chunk cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	reader, err := NewChunkReader(name, b, s.chunkSize)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	if s.rc != nil {
		reader = &limitedChunkReader{ChunkReader: reader, rc: s.rc}
	}
	return &CachingBlob{
		reb:       s.cache.MaybeWrap(reader),
		name:      name,
		chunkSize: int64(s.chunkSize),
		fillLimit: s.fillLimit,
	}, nil
}

// Create passes through to the inner store, throttled by the IO limit
// when one is set. The blob's cached chunks, if any, are invalidated
// once the write is published by Close.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	blob := &invalidatingWritableBlob{WritableBlob: w, cache: s.cache, name: name}
	if s.rc != nil {
		blob.limited = resource.NewRateLimitedWriter(ctx, w, s.rc)
	}
	return blob, nil
}

// Put writes through to the inner store and invalidates the blob's
// cached chunks so subsequent reads observe the new content.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	if s.rc != nil {
		if err := s.rc.AcquireIO(ctx, len(data)); err != nil {
			return err
		}
	}
	if err := s.inner.Put(ctx, name, data); err != nil {
		return err
	}
	s.cache.InvalidateFile(name)
	return nil
}

// Delete removes the blob and invalidates its cached chunks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	if err := s.inner.Delete(ctx, name); err != nil {
		return err
	}
	s.cache.InvalidateFile(name)
	return nil
}

// List passes through to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// CachingBlob serves reads from the shared chunk cache. Closing it
// closes the underlying blob; chunks already cached stay valid for
// other handles on the same name.
type CachingBlob struct {
	reb       chunkgo.Rebufferer
	name      string
	chunkSize int64
	fillLimit int
}

func (b *CachingBlob) Size() int64 {
	return b.reb.Size()
}

func (b *CachingBlob) Close() error {
	return b.reb.Close()
}

func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("blobstore: negative read offset %d", off)
	}
	size := b.reb.Size()
	if off >= size {
		return 0, io.EOF
	}

	want := int64(len(p))
	if off+want > size {
		want = size - off
	}

	first := off &^ (b.chunkSize - 1)
	last := (off + want - 1) &^ (b.chunkSize - 1)

	if first == last {
		if _, err := b.copyChunk(ctx, p[:want], off); err != nil {
			return 0, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.fillLimit)
		for chunk := first; chunk <= last; chunk += b.chunkSize {
			start := max(chunk, off)
			end := min(chunk+b.chunkSize, off+want)
			g.Go(func() error {
				_, err := b.copyChunk(gctx, p[start-off:end-off], start)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
	}

	if want < int64(len(p)) {
		return int(want), io.EOF
	}
	return int(want), nil
}

// copyChunk fills dst from the cached chunk containing off. dst must not
// cross a chunk boundary.
func (b *CachingBlob) copyChunk(ctx context.Context, dst []byte, off int64) (int, error) {
	buf, err := b.reb.Rebuffer(ctx, off)
	if err != nil {
		return 0, err
	}
	defer buf.Release()

	data := buf.Bytes()
	rel := off - buf.Offset()
	if rel >= int64(len(data)) {
		return 0, io.EOF
	}
	return copy(dst, data[rel:]), nil
}

func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off >= b.reb.Size() {
		return nil, io.EOF
	}
	if end := off + length; end > b.reb.Size() {
		length = b.reb.Size() - off
	}
	return io.NopCloser(&contextSectionReader{blob: b, ctx: ctx, off: off, limit: off + length}), nil
}

// contextSectionReader adapts a bounded window of a CachingBlob to
// io.Reader, carrying the context of the ReadRange call.
type contextSectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *contextSectionReader) Read(p []byte) (n int, err error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err = r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	return n, err
}

// invalidatingWritableBlob drops the blob's cached chunks once a
// streamed write is published. Writes are charged to the store's IO
// budget when a limit is set.
type invalidatingWritableBlob struct {
	WritableBlob
	limited *resource.RateLimitedWriter
	cache   *chunkgo.Cache
	name    string
}

func (w *invalidatingWritableBlob) Write(p []byte) (int, error) {
	if w.limited != nil {
		return w.limited.Write(p)
	}
	return w.WritableBlob.Write(p)
}

func (w *invalidatingWritableBlob) Close() error {
	if err := w.WritableBlob.Close(); err != nil {
		return err
	}
	w.cache.InvalidateFile(w.name)
	return nil
}

// limitedChunkReader throttles miss loads through the store's IO
// controller before delegating to the wrapped reader.
type limitedChunkReader struct {
	chunkgo.ChunkReader
	rc *resource.Controller
}

func (r *limitedChunkReader) ReadChunk(ctx context.Context, position int64, p []byte) (int, error) {
	if err := r.rc.AcquireIO(ctx, len(p)); err != nil {
		return 0, err
	}
	return r.ChunkReader.ReadChunk(ctx, position, p)
}
