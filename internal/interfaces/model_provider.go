package interfaces

import (
	"context"
)

// FileState is the provider-independent state of an uploaded file
type FileState string

const (
	FileStateUnknown    FileState = "unknown"
	FileStateProcessing FileState = "processing"
	FileStateActive     FileState = "active"
	FileStateFailed     FileState = "failed"
)

// FileHandle references a document uploaded to the model provider
type FileHandle struct {
	Name     string // Provider resource name, used for state lookups and deletion
	URI      string // URI referenced from generation requests
	MIMEType string
}

// InlineDocument is a document sent with the request instead of being uploaded
type InlineDocument struct {
	Data     []byte
	MIMEType string
}

// GenerateRequest is a provider-agnostic generation request.
// Exactly one of Text, File or Inline carries the content; Prompt is always sent first.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Text        string
	File        *FileHandle
	Inline      *InlineDocument
	JSON        bool // Ask the provider for application/json output
	Temperature float32
}

// ModelResponse normalizes provider response shapes. Each provider ships
// its own adapter; pipeline code only ever calls Text.
type ModelResponse interface {
	// Text returns the concatenated response text, or ErrEmptyResponse
	Text() (string, error)
}

// ModelProvider generates content with a multimodal model
type ModelProvider interface {
	// Generate performs one generation call. Content policy refusals must be
	// reported as ErrContentBlocked so the caller never retries them.
	Generate(ctx context.Context, req *GenerateRequest) (ModelResponse, error)

	// Name returns the provider name for logging
	Name() string

	// Close releases client resources
	Close() error
}

// FileStore is implemented by providers that need documents uploaded before use
type FileStore interface {
	// RequiresUpload reports whether documents must be uploaded rather than sent inline
	RequiresUpload() bool

	UploadFile(ctx context.Context, data []byte, mimeType, displayName string) (*FileHandle, error)

	// GetFileState returns the provider's raw state representation
	// (string name, numeric code or SDK enum)
	GetFileState(ctx context.Context, handle *FileHandle) (any, error)

	// DeleteFile removes the uploaded file (best-effort for callers)
	DeleteFile(ctx context.Context, handle *FileHandle) error
}
