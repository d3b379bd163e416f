// Package pipeline runs one document through page location, OCR,
// structuring, report rendering and archival.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/AyanbekDos/smeta-2/internal/services/archive"
	"github.com/AyanbekDos/smeta-2/internal/services/pagelocator"
	"github.com/AyanbekDos/smeta-2/internal/services/prompts"
	"github.com/AyanbekDos/smeta-2/internal/services/report"
	"github.com/AyanbekDos/smeta-2/internal/services/structuring"
	"github.com/AyanbekDos/smeta-2/internal/services/tables"
	"github.com/ternarybob/arbor"
)

// Telegram photo upload limits
const (
	photoMaxBytes = 10 << 20
	photoMaxSide  = 5000
)

// Documents validates and rasterizes PDF documents
type Documents interface {
	ValidateLimits(data []byte, maxBytes int64, maxPages int) (int, error)
	RenderPage(ctx context.Context, data []byte, page, dpi int) ([]byte, error)
	FitForTransport(data []byte, maxBytes int, maxSide int) ([]byte, error)
}

// Locator finds the specification page
type Locator interface {
	Locate(ctx context.Context, document []byte, documentName, sessionID string) (pagelocator.Result, error)
}

// Archiver persists runs and their feedback
type Archiver interface {
	WriteInitial(ctx context.Context, in archive.InitialArtifacts) (string, bool)
	ScheduleTimeout(userID int64, archivePath string, timeout time.Duration)
	CancelPending(userID int64) bool
	Finalize(ctx context.Context, archivePath string, status models.FeedbackStatus)
}

// Config holds the pipeline limits
type Config struct {
	MaxFileBytes   int64
	MaxPages       int
	PreviewDPI     int
	OCRDPI         int
	MaxImageBytes  int
	MaxImageSide   int
	FeedbackWindow time.Duration
}

// Request is one processing run for a confirmed page
type Request struct {
	SessionID    string
	UserID       int64
	ChatID       int64
	DocumentName string
	Document     []byte
	PageCount    int
	Page         int
}

// Result is everything a completed run produced
type Result struct {
	Page        int
	PageImage   []byte
	TableHTML   string
	Spec        *models.Specification
	Strategy    string
	Degraded    bool
	Report      *report.Report
	ArchivePath string
}

// Service is the extraction pipeline
type Service struct {
	documents Documents
	locator   Locator
	extractor *tables.Extractor
	ladder    *structuring.Ladder
	reports   *report.Renderer
	archive   Archiver
	prompts   interfaces.PromptStore
	config    Config
	logger    arbor.ILogger
}

// NewService creates the pipeline from its collaborators
func NewService(
	documents Documents,
	locator Locator,
	extractor *tables.Extractor,
	ladder *structuring.Ladder,
	reports *report.Renderer,
	archiver Archiver,
	promptStore interfaces.PromptStore,
	config Config,
	logger arbor.ILogger,
) *Service {
	return &Service{
		documents: documents,
		locator:   locator,
		extractor: extractor,
		ladder:    ladder,
		reports:   reports,
		archive:   archiver,
		prompts:   promptStore,
		config:    config,
		logger:    logger,
	}
}

// Config returns the pipeline limits
func (s *Service) Config() Config {
	return s.config
}

// Validate checks the document against the size and page limits and returns its page count
func (s *Service) Validate(document []byte) (int, error) {
	return s.documents.ValidateLimits(document, s.config.MaxFileBytes, s.config.MaxPages)
}

// Locate finds the specification page
func (s *Service) Locate(ctx context.Context, document []byte, documentName, sessionID string) (pagelocator.Result, error) {
	return s.locator.Locate(ctx, document, documentName, sessionID)
}

// Preview renders a page for user confirmation, sized for a chat photo
func (s *Service) Preview(ctx context.Context, document []byte, page int) ([]byte, error) {
	img, err := s.documents.RenderPage(ctx, document, page, s.config.PreviewDPI)
	if err != nil {
		return nil, err
	}
	return s.documents.FitForTransport(img, photoMaxBytes, photoMaxSide)
}

// Process runs OCR, structuring, rendering and archival for a confirmed page.
// Structuring never fails; OCR and rendering errors propagate.
func (s *Service) Process(ctx context.Context, req Request, notifier interfaces.Notifier) (*Result, error) {
	logger := s.logger.WithCorrelationId(req.SessionID)
	started := time.Now()

	if req.Page < 1 || (req.PageCount > 0 && req.Page > req.PageCount) {
		return nil, fmt.Errorf("%w: %d of %d", interfaces.ErrPageOutOfRange, req.Page, req.PageCount)
	}

	img, err := s.documents.RenderPage(ctx, req.Document, req.Page, s.config.OCRDPI)
	if err != nil {
		return nil, err
	}
	img, err = s.documents.FitForTransport(img, s.config.MaxImageBytes, s.config.MaxImageSide)
	if err != nil {
		return nil, err
	}

	imageType := http.DetectContentType(img)
	tableHTML, err := s.extractor.Extract(ctx, img, imageType)
	if err != nil {
		return nil, err
	}

	outcome := s.ladder.Structure(ctx, structuring.Input{
		TableText: tableHTML,
		SessionID: req.SessionID,
		ChatID:    req.ChatID,
	}, notifier)

	rendered, err := s.reports.Render(outcome.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	result := &Result{
		Page:      req.Page,
		PageImage: img,
		TableHTML: tableHTML,
		Spec:      outcome.Spec,
		Strategy:  outcome.Strategy,
		Degraded:  outcome.Degraded,
		Report:    rendered,
	}

	if path, ok := s.archive.WriteInitial(ctx, archive.InitialArtifacts{
		UserID:        req.UserID,
		DocumentName:  req.DocumentName,
		PageNumber:    req.Page,
		PageImage:     img,
		PageImageType: imageType,
		TableHTML:     tableHTML,
		Result:        outcome.Spec,
		FindPrompt:    s.prompts.Load(prompts.FindAndValidate),
		ExtractPrompt: s.prompts.Load(prompts.ExtractAndCorrect),
		Strategy:      outcome.Strategy,
		Degraded:      outcome.Degraded,
	}); ok {
		result.ArchivePath = path
		s.archive.ScheduleTimeout(req.UserID, path, s.config.FeedbackWindow)
	}

	logger.Info().
		Str("document", req.DocumentName).
		Int("page", req.Page).
		Str("strategy", outcome.Strategy).
		Bool("degraded", outcome.Degraded).
		Int("rows", rendered.Rows).
		Str("archive", result.ArchivePath).
		Dur("duration", time.Since(started)).
		Msg("Document processed")

	return result, nil
}

// RecordFeedback stops the pending timeout and finalizes the run with the user's verdict
func (s *Service) RecordFeedback(ctx context.Context, userID int64, archivePath string, good bool) {
	s.archive.CancelPending(userID)
	if archivePath == "" {
		return
	}

	status := models.FeedbackBad
	if good {
		status = models.FeedbackGood
	}
	s.archive.Finalize(ctx, archivePath, status)
}
