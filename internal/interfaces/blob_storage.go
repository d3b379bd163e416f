package interfaces

import (
	"context"
)

// BlobStore is a flat key/value blob store with content-type metadata.
// Keys are '/'-delimited but the store is logically flat.
type BlobStore interface {
	// Configured reports whether the backend has credentials and a bucket.
	// Callers skip archival entirely when it returns false.
	Configured() bool

	// Put stores data under key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PutEncoded stores already-encoded data (e.g. gzip) with a Content-Encoding
	PutEncoded(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error

	// Get returns the blob, or ErrBlobNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys starting with prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
