// Package s3 stores archive blobs in an S3-compatible bucket (Yandex Object Storage by default)
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ternarybob/arbor"
)

// BlobStorage implements BlobStore on an S3-compatible bucket
type BlobStorage struct {
	client *minio.Client
	bucket string
	logger arbor.ILogger
}

// NewBlobStorage creates an S3 client for the configured endpoint and bucket
func NewBlobStorage(config *common.YandexConfig, logger arbor.ILogger) (*BlobStorage, error) {
	if config.AccessKey == "" || config.SecretKey == "" || config.Bucket == "" {
		return nil, fmt.Errorf("yandex storage requires access_key, secret_key and bucket")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	logger.Debug().
		Str("endpoint", config.Endpoint).
		Str("bucket", config.Bucket).
		Str("region", config.Region).
		Msg("S3 blob storage initialized")

	return &BlobStorage{
		client: client,
		bucket: config.Bucket,
		logger: logger,
	}, nil
}

// Configured is always true; construction fails without credentials
func (s *BlobStorage) Configured() bool {
	return s.client != nil
}

// Put uploads data under key
func (s *BlobStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.PutEncoded(ctx, key, data, contentType, "")
}

// PutEncoded uploads pre-encoded data with a Content-Encoding header
func (s *BlobStorage) PutEncoded(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Get downloads an object, or returns ErrBlobNotFound
func (s *BlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.translate(key, err)
	}
	return data, nil
}

// Exists reports whether an object exists
func (s *BlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// List returns every key under prefix
func (s *BlobStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// Delete removes an object; S3 treats a missing key as success
func (s *BlobStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client holds no persistent resources
func (s *BlobStorage) Close() error {
	return nil
}

func (s *BlobStorage) translate(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", interfaces.ErrBlobNotFound, key)
	}
	return fmt.Errorf("failed to download %s: %w", key, err)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
