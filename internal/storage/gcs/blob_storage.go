// Package gcs stores archive blobs in a Google Cloud Storage bucket
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BlobStorage implements BlobStore on a GCS bucket
type BlobStorage struct {
	client *storage.Client
	bucket string
	logger arbor.ILogger
}

// NewBlobStorage creates a GCS client. Without a credentials file the
// application default credentials are used.
func NewBlobStorage(ctx context.Context, config *common.GCSConfig, logger arbor.ILogger) (*BlobStorage, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("gcs storage requires a bucket")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	logger.Debug().Str("bucket", config.Bucket).Msg("GCS blob storage initialized")

	return &BlobStorage{
		client: client,
		bucket: config.Bucket,
		logger: logger,
	}, nil
}

// Configured reports whether the client is open
func (s *BlobStorage) Configured() bool {
	return s.client != nil
}

// Put uploads data under key
func (s *BlobStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.PutEncoded(ctx, key, data, contentType, "")
}

// PutEncoded uploads pre-encoded data with a Content-Encoding attribute
func (s *BlobStorage) PutEncoded(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentEncoding = contentEncoding

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

// Get downloads an object, or returns ErrBlobNotFound.
// Stored gzip encoding is returned as-is.
func (s *BlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).ReadCompressed(true).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether an object exists
func (s *BlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// List returns every key under prefix
func (s *BlobStorage) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	keys := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Delete removes an object
func (s *BlobStorage) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s from GCS: %w", key, err)
	}
	return nil
}

// Close closes the client
func (s *BlobStorage) Close() error {
	return s.client.Close()
}
