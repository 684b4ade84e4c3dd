// Package objectstore keeps job text and generated audio in NATS JetStream
// object store buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	logFmtBucketCreated = "Created object store bucket '%s'"
	logFmtBucketBound   = "Bound to existing object store bucket '%s'"
)

// Object store errors.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrEmptyKey       = errors.New("object key cannot be empty")
)

// Option configures the bucket created by New.
type Option func(*nats.ObjectStoreConfig)

// WithMemoryStorage keeps the bucket in memory instead of on disk.
func WithMemoryStorage() Option {
	return func(cfg *nats.ObjectStoreConfig) { cfg.Storage = nats.MemoryStorage }
}

// WithMaxBytes caps the size of the bucket.
func WithMaxBytes(maxBytes int64) Option {
	return func(cfg *nats.ObjectStoreConfig) { cfg.MaxBytes = maxBytes }
}

// NatsObjectStore implements core.ObjectStore on one JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates bucketName, or binds to it when it already exists.
func New(
	jetstreamContext nats.JetStreamContext,
	bucketName string,
	log *logger.Logger,
	opts ...Option,
) (*NatsObjectStore, error) {
	cfg := &nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Voice service objects in %s.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	store, err := jetstreamContext.CreateObjectStore(cfg)
	if err == nil {
		log.Info(logFmtBucketCreated, bucketName)

		return &NatsObjectStore{bucket: bucketName, store: store}, nil
	}

	if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
	}

	store, err = jetstreamContext.ObjectStore(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
	}

	log.Info(logFmtBucketBound, bucketName)

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves the object stored under key.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes the object stored under key.
func (n *NatsObjectStore) Delete(key string) error {
	err := n.store.Delete(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, n.bucket)
		}

		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
