package interfaces

import "errors"

// Pipeline error taxonomy. Callers match with errors.Is; producers wrap
// with context via fmt.Errorf("%w: %w", ErrX, cause).
var (
	// ErrModelUnavailable is returned when every retry of a model call failed
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrContentBlocked is returned when the provider refused on content policy.
	// It is never retried.
	ErrContentBlocked = errors.New("content blocked by provider")

	// ErrFileProcessingFailed is returned when an uploaded file reached the failed state
	ErrFileProcessingFailed = errors.New("uploaded file processing failed")

	// ErrTimeout is returned when a readiness wait exhausted its budget
	ErrTimeout = errors.New("timed out")

	// ErrNoTableFound is returned when OCR detected no tables on the page
	ErrNoTableFound = errors.New("no table found")

	// ErrEmptyResponse is returned when no text could be extracted from a model response
	ErrEmptyResponse = errors.New("empty model response")

	// ErrMalformedModelOutput is returned when model text could not be parsed as JSON
	ErrMalformedModelOutput = errors.New("malformed model output")

	// ErrArchiveWriteFailure marks a failed archive write; it is logged, never surfaced
	ErrArchiveWriteFailure = errors.New("archive write failure")

	// ErrPromptMissing is returned when a required prompt template is empty
	ErrPromptMissing = errors.New("prompt template missing")

	// ErrBlobNotFound is returned when a blob key does not exist
	ErrBlobNotFound = errors.New("blob not found")

	// ErrDocumentTooLarge is returned when a document exceeds the size limit
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrTooManyPages is returned when a document exceeds the page limit
	ErrTooManyPages = errors.New("too many pages")

	// ErrPageOutOfRange is returned when a page number is outside the document
	ErrPageOutOfRange = errors.New("page out of range")
)
