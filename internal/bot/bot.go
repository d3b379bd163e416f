// Package bot runs the Telegram conversation: document intake, page
// confirmation, processing and feedback collection.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/AyanbekDos/smeta-2/internal/services/pagelocator"
	"github.com/AyanbekDos/smeta-2/internal/services/pipeline"
	"github.com/ternarybob/arbor"
)

// Pipeline is the document processing surface the conversation drives
type Pipeline interface {
	Validate(document []byte) (int, error)
	Locate(ctx context.Context, document []byte, documentName, sessionID string) (pagelocator.Result, error)
	Preview(ctx context.Context, document []byte, page int) ([]byte, error)
	Process(ctx context.Context, req pipeline.Request, notifier interfaces.Notifier) (*pipeline.Result, error)
	RecordFeedback(ctx context.Context, userID int64, archivePath string, good bool)
}

// Config holds conversation limits
type Config struct {
	MaxFileMB     int
	MaxPages      int
	ReportPrefix  string
	SessionMaxAge time.Duration
}

// Bot is the per-user conversation state machine
type Bot struct {
	messenger Messenger
	pipeline  Pipeline
	sessions  *Sessions
	config    Config
	logger    arbor.ILogger
	wg        sync.WaitGroup
}

// New creates a bot over the given messenger and pipeline
func New(messenger Messenger, pipe Pipeline, config Config, logger arbor.ILogger) *Bot {
	if config.ReportPrefix == "" {
		config.ReportPrefix = "specification"
	}
	return &Bot{
		messenger: messenger,
		pipeline:  pipe,
		sessions:  NewSessions(),
		config:    config,
		logger:    logger,
	}
}

// Run dispatches events until the source closes, then waits for in-flight handlers
func (b *Bot) Run(ctx context.Context, source EventSource) {
	b.logger.Info().Msg("Bot started")

	for ev := range source.Listen(ctx) {
		b.wg.Add(1)
		common.SafeGo(b.logger, "handleEvent", func() {
			defer b.wg.Done()
			b.Handle(ctx, ev)
		})
	}

	b.wg.Wait()
	b.logger.Info().
		Int64("handlers_started", common.GetGoroutineCount()).
		Msg("Bot stopped")
}

// RegisterCleanup prunes idle sessions on the given cron schedule
func (b *Bot) RegisterCleanup(scheduler interfaces.Scheduler, schedule string) error {
	return scheduler.Every(schedule, "session-prune", func() {
		if removed := b.sessions.Prune(b.config.SessionMaxAge); removed > 0 {
			b.logger.Debug().Int("removed", removed).Msg("Pruned idle sessions")
		}
	})
}

// Notify implements interfaces.Notifier
func (b *Bot) Notify(ctx context.Context, chatID int64, message string) error {
	return b.messenger.SendText(ctx, chatID, message)
}

// Handle processes one event under the user's session lock
func (b *Bot) Handle(ctx context.Context, ev Event) {
	if ev.CallbackID != "" {
		if err := b.messenger.AnswerCallback(ctx, ev.CallbackID); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to answer callback")
		}
	}

	// /cancel must not wait behind a running stage for the session lock
	if ev.Command == "cancel" && b.sessions.Interrupt(ev.UserID) {
		b.logger.Info().Int64("user_id", ev.UserID).Msg("Running stage interrupted")
	}

	session, release := b.sessions.Acquire(ev.UserID, ev.ChatID)
	defer release()

	switch {
	case ev.Command != "":
		b.handleCommand(ctx, session, ev)
	case ev.Document != nil:
		b.handleDocument(ctx, session, ev.Document)
	case ev.Callback != "":
		b.handleCallback(ctx, session, ev)
	case ev.Text != "":
		b.handleText(ctx, session, ev.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *models.ExtractionSession, ev Event) {
	switch ev.Command {
	case "cancel":
		b.reset(session)
		b.send(ctx, session.ChatID, msgCanceled)
	default:
		b.reset(session)
		b.send(ctx, session.ChatID, msgUploadPDF)
	}
}

func (b *Bot) handleDocument(ctx context.Context, session *models.ExtractionSession, doc *DocumentRef) {
	maxBytes := int64(b.config.MaxFileMB) << 20

	if !doc.IsPDF() {
		b.send(ctx, session.ChatID, msgUploadPDF)
		return
	}
	if maxBytes > 0 && doc.Size > maxBytes {
		b.send(ctx, session.ChatID, fmt.Sprintf(msgFileTooLarge, b.config.MaxFileMB))
		return
	}

	// A new document abandons whatever the user was doing. A pending
	// feedback record is left to its timeout.
	b.reset(session)
	session.SessionID = common.NewSessionID()
	session.DocumentName = doc.FileName
	session.CreatedAt = time.Now()
	logger := b.logger.WithCorrelationId(session.SessionID)

	b.send(ctx, session.ChatID, fmt.Sprintf(msgFileAccepted, doc.FileName))

	data, err := b.messenger.Download(ctx, doc.FileID, maxBytes)
	if err != nil {
		logger.Error().Err(err).Str("document", doc.FileName).Msg("Failed to download document")
		b.send(ctx, session.ChatID, msgDownloadFailed)
		b.reset(session)
		return
	}

	pages, err := b.pipeline.Validate(data)
	if err != nil {
		logger.Warn().Err(err).Str("document", doc.FileName).Int("size", len(data)).Msg("Document rejected")
		switch {
		case errors.Is(err, interfaces.ErrTooManyPages):
			b.send(ctx, session.ChatID, fmt.Sprintf(msgTooManyPages, pages, b.config.MaxPages))
		case errors.Is(err, interfaces.ErrDocumentTooLarge):
			b.send(ctx, session.ChatID, fmt.Sprintf(msgFileTooLarge, b.config.MaxFileMB))
		default:
			b.send(ctx, session.ChatID, msgPageCountFailed)
		}
		b.reset(session)
		return
	}

	session.SourceDocument = data
	session.PageCount = pages

	b.send(ctx, session.ChatID, msgAnalyzing)

	workCtx, done := b.sessions.BeginWork(ctx, session.UserID)
	located, err := b.pipeline.Locate(workCtx, data, doc.FileName, session.SessionID)
	interrupted := interruptedBy(ctx, workCtx)
	done()
	if interrupted {
		logger.Info().Msg("Page location interrupted by user")
		b.reset(session)
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Page location failed")
		b.send(ctx, session.ChatID, b.userMessageFor(err))
		b.reset(session)
		return
	}

	if !located.Found || located.Page > pages {
		logger.Info().Int("page", located.Page).Int("pages", pages).Msg("Page not located, asking user")
		b.askForPage(ctx, session, msgPageNotFound)
		return
	}

	b.offerPage(ctx, session, located.Page)
}

// offerPage shows the located page and asks the user to confirm it
func (b *Bot) offerPage(ctx context.Context, session *models.ExtractionSession, page int) {
	logger := b.logger.WithCorrelationId(session.SessionID)

	preview, err := b.pipeline.Preview(ctx, session.SourceDocument, page)
	if err != nil {
		logger.Warn().Err(err).Int("page", page).Msg("Failed to render preview")
		b.askForPage(ctx, session, msgPageNotFound)
		return
	}

	session.PageNumber = page
	session.State = models.StateAwaitingConfirmation

	caption := fmt.Sprintf(msgConfirmCaption, page)
	if err := b.messenger.SendPhoto(ctx, session.ChatID, "page.png", preview, caption, confirmButtons); err != nil {
		logger.Warn().Err(err).Int("page", page).Msg("Failed to send preview")
		b.askForPage(ctx, session, msgPageNotFound)
	}
}

func (b *Bot) askForPage(ctx context.Context, session *models.ExtractionSession, message string) {
	session.State = models.StateAwaitingManualPage
	b.send(ctx, session.ChatID, message)
}

func (b *Bot) handleCallback(ctx context.Context, session *models.ExtractionSession, ev Event) {
	logger := b.logger.WithCorrelationId(session.SessionID)

	switch {
	case session.State == models.StateAwaitingConfirmation && ev.Callback == callbackYes:
		b.clearButtons(ctx, ev)
		b.send(ctx, session.ChatID, msgConfirmed)
		b.process(ctx, session, session.PageNumber)

	case session.State == models.StateAwaitingConfirmation && ev.Callback == callbackNo:
		b.clearButtons(ctx, ev)
		b.askForPage(ctx, session, msgEnterPage)

	case session.State == models.StateAwaitingFeedback &&
		(ev.Callback == callbackFeedbackOK || ev.Callback == callbackFeedbackBad):
		b.clearButtons(ctx, ev)
		good := ev.Callback == callbackFeedbackOK
		b.pipeline.RecordFeedback(ctx, session.UserID, session.ArchivePath, good)
		logger.Info().Bool("good", good).Str("archive", session.ArchivePath).Msg("Feedback received")
		b.send(ctx, session.ChatID, msgFeedbackThanks)
		b.reset(session)

	default:
		logger.Debug().
			Str("callback", ev.Callback).
			Str("state", session.State.String()).
			Msg("Ignoring stale callback")
	}
}

func (b *Bot) handleText(ctx context.Context, session *models.ExtractionSession, text string) {
	switch session.State {
	case models.StateAwaitingManualPage, models.StateAwaitingConfirmation:
		page, err := strconv.Atoi(text)
		if err != nil || page < 1 {
			b.send(ctx, session.ChatID, msgInvalidPage)
			return
		}
		if page > session.PageCount {
			b.send(ctx, session.ChatID, fmt.Sprintf(msgPageRange, session.PageCount))
			return
		}
		b.send(ctx, session.ChatID, fmt.Sprintf(msgPageAccepted, page))
		b.process(ctx, session, page)

	case models.StateAwaitingFeedback:
		b.sendButtons(ctx, session.ChatID, msgFeedbackPrompt, feedbackButtons)

	default:
		b.send(ctx, session.ChatID, msgUploadPDF)
	}
}

// process runs the pipeline for a confirmed page and delivers the reports
func (b *Bot) process(ctx context.Context, session *models.ExtractionSession, page int) {
	logger := b.logger.WithCorrelationId(session.SessionID)

	session.PageNumber = page
	session.State = models.StateProcessing

	workCtx, done := b.sessions.BeginWork(ctx, session.UserID)
	result, err := b.pipeline.Process(workCtx, pipeline.Request{
		SessionID:    session.SessionID,
		UserID:       session.UserID,
		ChatID:       session.ChatID,
		DocumentName: session.DocumentName,
		Document:     session.SourceDocument,
		PageCount:    session.PageCount,
		Page:         page,
	}, b)
	interrupted := interruptedBy(ctx, workCtx)
	done()
	if interrupted {
		logger.Info().Int("page", page).Msg("Processing interrupted by user")
		b.reset(session)
		return
	}
	if err != nil {
		logger.Error().Err(err).Int("page", page).Msg("Processing failed")
		b.send(ctx, session.ChatID, b.userMessageFor(err))
		b.reset(session)
		return
	}

	session.SourceDocument = nil
	session.PageImage = result.PageImage
	session.RawTableText = result.TableHTML
	session.Structured = result.Spec
	session.Strategy = result.Strategy
	session.Degraded = result.Degraded
	session.ArchivePath = result.ArchivePath

	if err := b.deliver(ctx, session.ChatID, result); err != nil {
		logger.Error().Err(err).Msg("Failed to deliver report")
		b.send(ctx, session.ChatID, msgSendFailed)
	}

	if session.ArchivePath == "" {
		b.reset(session)
		return
	}

	session.State = models.StateAwaitingFeedback
	b.sendButtons(ctx, session.ChatID, msgFeedbackPrompt, feedbackButtons)
}

func (b *Bot) deliver(ctx context.Context, chatID int64, result *pipeline.Result) error {
	if err := b.messenger.SendText(ctx, chatID, msgDelivered); err != nil {
		return err
	}
	if err := b.messenger.SendDocument(ctx, chatID, b.config.ReportPrefix+".xlsx", result.Report.XLSX); err != nil {
		return fmt.Errorf("failed to send xlsx: %w", err)
	}
	if err := b.messenger.SendDocument(ctx, chatID, b.config.ReportPrefix+".txt", result.Report.Text); err != nil {
		return fmt.Errorf("failed to send text report: %w", err)
	}
	return nil
}

// interruptedBy reports whether work was canceled through Sessions.Interrupt
// rather than by the parent context
func interruptedBy(parent, work context.Context) bool {
	return work.Err() != nil && parent.Err() == nil
}

func (b *Bot) reset(session *models.ExtractionSession) {
	session.Clear()
	session.SessionID = ""
	session.DocumentName = ""
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.messenger.SendText(ctx, chatID, text); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) sendButtons(ctx context.Context, chatID int64, text string, buttons []Button) {
	if err := b.messenger.SendButtons(ctx, chatID, text, buttons); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) clearButtons(ctx context.Context, ev Event) {
	if err := b.messenger.ClearButtons(ctx, ev.ChatID, ev.MessageID); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to clear buttons")
	}
}
