package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/chunkgo/blobstore"
)

// Store implements blobstore.BlobStore for Amazon S3. Reads are ranged
// GETs sized by the caller, which pairs naturally with chunk-grained
// access; writes stream through the upload manager.
type Store struct {
	client    Client
	bucket    string
	prefix    string
	uploadCfg UploadConfig
}

var _ blobstore.BlobStore = (*Store)(nil)

type options struct {
	prefix    string
	region    string
	client    Client
	uploadCfg UploadConfig
}

// Option configures a Store created with New.
type Option func(*options)

// WithPrefix prepends the given root prefix to all keys (e.g. "tables/").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion pins the AWS region instead of resolving it from the
// environment.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithClient supplies a pre-built client, skipping AWS config loading.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithUploadConfig overrides the upload tuning used by Create and Put.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *options) {
		o.uploadCfg = cfg
	}
}

// New creates an S3 blob store for the given bucket, loading AWS
// configuration from the environment unless a client is supplied.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	o := options{uploadCfg: DefaultUploadConfig()}
	for _, fn := range optFns {
		fn(&o)
	}

	client := o.client
	if client == nil {
		var loadFns []func(*config.LoadOptions) error
		if o.region != "" {
			loadFns = append(loadFns, config.WithRegion(o.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadFns...)
		if err != nil {
			return nil, fmt.Errorf("s3: load aws config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}

	return &Store{
		client:    client,
		bucket:    bucket,
		prefix:    o.prefix,
		uploadCfg: o.uploadCfg,
	}, nil
}

// NewStore creates an S3 blob store from an existing client.
// rootPrefix is prepended to all keys (e.g. "tables/").
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		prefix:    rootPrefix,
		uploadCfg: DefaultUploadConfig(),
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens an existing blob for ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, s.key(name))
}

// Create starts a streaming upload. Data is committed when Close on the
// returned handle succeeds; a failed upload leaves no parts behind
// unless the upload config says otherwise.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	uploader := newUploader(s.client, s.uploadCfg)
	return newStreamingWritableBlob(ctx, uploader, s.bucket, s.key(name), s.uploadCfg.EnableChecksum), nil
}

// Put writes a blob in one shot, with CRC32C integrity validation when
// the upload config enables it.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if s.uploadCfg.EnableChecksum {
		return putWithChecksum(ctx, s.client, s.bucket, s.key(name), data)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Delete removes a blob. S3 treats deleting a missing key as success.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// List returns all blob names under the given prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, s.key(prefix), s.prefix)
}
