package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

const blobType = "Blob"

// badgerhold stores each record under "bh_<type>:" followed by the encoded key
var blobKeyPrefix = []byte("bh_" + blobType + ":")

// Blob is one archived object
type Blob struct {
	Key             string
	Data            []byte
	ContentType     string
	ContentEncoding string
	UpdatedAt       time.Time
}

// Type pins the badgerhold namespace that List scans
func (Blob) Type() string { return blobType }

// Indexes declares no secondary indexes
func (Blob) Indexes() map[string]badgerhold.Index { return nil }

// BlobStorage implements BlobStore on a local Badger database
type BlobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBlobStorage creates a blob store over an open database
func NewBlobStorage(db *BadgerDB, logger arbor.ILogger) *BlobStorage {
	return &BlobStorage{
		db:     db,
		logger: logger,
	}
}

// Configured is true once the database is open
func (s *BlobStorage) Configured() bool {
	return s.db != nil && s.db.Store() != nil
}

// Put stores data under key
func (s *BlobStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.PutEncoded(ctx, key, data, contentType, "")
}

// PutEncoded stores already-encoded data with its content encoding
func (s *BlobStorage) PutEncoded(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error {
	blob := Blob{
		Key:             key,
		Data:            data,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(key, &blob); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

// Get returns the stored bytes, or ErrBlobNotFound
func (s *BlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.GetBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

// GetBlob returns the blob with its metadata
func (s *BlobStorage) GetBlob(ctx context.Context, key string) (*Blob, error) {
	var blob Blob
	err := s.db.Store().Get(key, &blob)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	return &blob, nil
}

// Exists reports whether key is present
func (s *BlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.GetBlob(ctx, key)
	if errors.Is(err, interfaces.ErrBlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns all keys starting with prefix in lexical order.
// Only keys are read; blob payloads stay on disk.
func (s *BlobStorage) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := s.db.Store().Badger().View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = blobKeyPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var key string
			if err := badgerhold.DefaultDecode(it.Item().Key()[len(blobKeyPrefix):], &key); err != nil {
				return fmt.Errorf("failed to decode blob key: %w", err)
			}
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs with prefix %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes a blob. A missing key is not an error.
func (s *BlobStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &Blob{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (s *BlobStorage) Close() error {
	return s.db.Close()
}
