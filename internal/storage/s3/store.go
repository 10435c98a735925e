// Package s3 stores archived runs in an S3-compatible bucket through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/asksql/asksql/internal/config"
	"github.com/asksql/asksql/internal/storage"
)

type client interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

type Options struct {
	Bucket string
	Prefix string
	Region string
	// CreateBucket provisions a missing bucket before the first write.
	CreateBucket bool
}

// Store is safe for concurrent use.
type Store struct {
	client client
	opts   Options

	mu          sync.Mutex
	bucketReady bool
}

// New builds a store from the archive config. It does not contact the
// endpoint; bucket checks happen on Ping and on the first Put.
func New(cfg config.ArchiveConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(mc, Options{
		Bucket:       cfg.Bucket,
		Prefix:       cfg.Prefix,
		Region:       cfg.Region,
		CreateBucket: cfg.AutoCreateBucket,
	})
}

func NewWithClient(c client, opts Options) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	opts.Bucket = strings.TrimSpace(opts.Bucket)
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	opts.Prefix = cleanPrefix(opts.Prefix)
	opts.Region = strings.TrimSpace(opts.Region)
	return &Store{client: c, opts: opts}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := s.prepareBucket(ctx); err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Put(ctx, s.opts.Bucket, objectKey, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", objectKey, err)
	}
	return info, nil
}

// Ping fails when the bucket is missing or unreachable.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.opts.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.opts.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q: %w", s.opts.Bucket, storage.ErrBucketNotFound)
	}
	return nil
}

// prepareBucket creates the bucket once when CreateBucket is set. A failed
// attempt is retried on the next Put.
func (s *Store) prepareBucket(ctx context.Context) error {
	if !s.opts.CreateBucket {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	err := s.Ping(ctx)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrBucketNotFound):
		if err := s.client.CreateBucket(ctx, s.opts.Bucket, s.opts.Region); err != nil {
			return fmt.Errorf("create bucket %q: %w", s.opts.Bucket, err)
		}
	default:
		return err
	}
	s.bucketReady = true
	return nil
}

func (s *Store) objectKey(key string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), "/")
	cleaned := path.Clean(trimmed)
	if trimmed == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return path.Join(s.opts.Prefix, cleaned), nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return cleaned
	}
	return ""
}

func newMinioClient(cfg config.ArchiveConfig) (*minioClient, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{mc: mc}, nil
}

// parseEndpoint accepts host:port or a URL. An https URL forces TLS; an
// http URL leaves the configured setting in place.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	switch {
	case parsed.Host == "":
		return "", false, fmt.Errorf("endpoint host is required")
	case parsed.Scheme == "https":
		return parsed.Host, true, nil
	case parsed.Scheme == "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

type minioClient struct {
	mc *minio.Client
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	uploaded, err := m.mc.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, translateError(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, ETag: uploaded.ETag}, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.mc.BucketExists(ctx, bucket)
	return exists, translateError(err)
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket, region string) error {
	return translateError(m.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %v", storage.ErrBucketNotFound, err)
	}
	return err
}
