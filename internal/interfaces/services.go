package interfaces

import (
	"context"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/models"
)

// OCRService detects tables on a page image
type OCRService interface {
	// Analyze runs table-structure OCR once and returns tables in service order
	Analyze(ctx context.Context, image []byte, mimeType string) ([]models.Table, error)

	Close() error
}

// Notifier delivers fire-and-forget user-facing messages
type Notifier interface {
	Notify(ctx context.Context, chatID int64, message string) error
}

// PromptStore loads named prompt templates
type PromptStore interface {
	// Load returns the template text, or "" when the template is missing
	Load(name string) string
}

// DiagnosticSink persists raw model output that could not be parsed
type DiagnosticSink interface {
	Dump(ctx context.Context, sessionID, tag, raw string)
}

// CancelFunc cancels a scheduled callback. It reports whether the callback
// was prevented from running.
type CancelFunc func() bool

// Scheduler owns every delayed and periodic callback in the process
type Scheduler interface {
	// After runs fn once after d. The returned func cancels it.
	After(d time.Duration, name string, fn func()) CancelFunc

	// Every registers fn on a cron schedule
	Every(spec string, name string, fn func()) error

	Start()

	// Stop stops periodic jobs and prevents pending delayed callbacks from running
	Stop()
}
