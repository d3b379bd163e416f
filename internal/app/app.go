// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th October 2026 6:40:12 pm
// Modified By: AyanbekDos
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/bot"
	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/services/archive"
	"github.com/AyanbekDos/smeta-2/internal/services/llm"
	"github.com/AyanbekDos/smeta-2/internal/services/ocr"
	"github.com/AyanbekDos/smeta-2/internal/services/pagelocator"
	"github.com/AyanbekDos/smeta-2/internal/services/pdf"
	"github.com/AyanbekDos/smeta-2/internal/services/pipeline"
	"github.com/AyanbekDos/smeta-2/internal/services/prompts"
	"github.com/AyanbekDos/smeta-2/internal/services/report"
	"github.com/AyanbekDos/smeta-2/internal/services/scheduler"
	"github.com/AyanbekDos/smeta-2/internal/services/structuring"
	"github.com/AyanbekDos/smeta-2/internal/services/tables"
	"github.com/AyanbekDos/smeta-2/internal/storage"
	"github.com/ternarybob/arbor"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// External clients
	Provider  interfaces.ModelProvider
	OCR       interfaces.OCRService
	BlobStore interfaces.BlobStore

	// Background callbacks (feedback timeouts, orphan sweep, session pruning)
	Scheduler     *scheduler.Service
	TimerRegistry *scheduler.TimerRegistry

	// Pipeline services
	Prompts  *prompts.Store
	PDF      *pdf.Service
	Locator  *pagelocator.Service
	Archive  *archive.Service
	Pipeline *pipeline.Service
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	ctx := context.Background()

	if err := app.initClients(ctx); err != nil {
		app.Close()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, err
	}

	app.Scheduler.Start()

	// Timers do not survive a restart; sweep records left pending by the previous run
	if app.Archive.Enabled() {
		if err := app.Scheduler.TriggerJob(archive.SweepJobName); err != nil {
			logger.Warn().Err(err).Msg("Failed to trigger startup orphan sweep")
		}
	}

	logger.Info().
		Str("llm_provider", app.Provider.Name()).
		Str("ocr_provider", string(cfg.OCR.Provider)).
		Bool("archive_enabled", app.Archive.Enabled()).
		Msg("Application initialized")

	return app, nil
}

// initClients connects the model provider, OCR backend and archive store
func (a *App) initClients(ctx context.Context) error {
	provider, err := llm.NewProvider(ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize model provider: %w", err)
	}
	a.Provider = provider

	ocrService, err := ocr.NewService(ctx, &a.Config.OCR, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OCR service: %w", err)
	}
	a.OCR = ocrService

	store, err := storage.NewBlobStore(ctx, a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize archive storage: %w", err)
	}
	a.BlobStore = store

	return nil
}

// initServices builds the pipeline on top of the connected clients
func (a *App) initServices() error {
	cfg := a.Config

	a.Scheduler = scheduler.NewService(a.Logger)
	a.TimerRegistry = scheduler.NewTimerRegistry()

	a.Prompts = prompts.NewStore(cfg.Prompts.Dir, a.Logger)
	a.Prompts.Preload()

	invoker := llm.NewInvokerFromConfig(cfg, a.Logger)
	waiter := llm.NewReadinessWaiter(a.Logger)
	parser := llm.NewResponseParser(llm.NewDirDiagnosticSink(cfg.Diagnostics.Dir, a.Logger), a.Logger)
	temperature := llm.Temperature(cfg)

	validator, err := structuring.NewSchemaValidator()
	if err != nil {
		return fmt.Errorf("failed to load specification schema: %w", err)
	}

	generator := &structuring.Generator{
		Provider:    a.Provider,
		Invoker:     invoker,
		Parser:      parser,
		Validator:   validator,
		Model:       cfg.LLM.ExtractModel,
		Temperature: temperature,
	}
	ladder := structuring.NewLadder(a.Logger,
		structuring.NewFullPromptStrategy(generator, a.Prompts),
		structuring.NewPlainTextStrategy(generator),
		structuring.NewDegradedStrategy(),
	)

	readyTimeout, pollInterval := llm.ReadinessBudget(cfg)
	a.Locator = pagelocator.NewService(a.Provider, invoker, waiter, parser, a.Prompts, pagelocator.Config{
		Model:        cfg.LLM.FindModel,
		Temperature:  temperature,
		ReadyTimeout: readyTimeout,
		PollInterval: pollInterval,
	}, a.Logger)

	window := common.ParseDurationOr(cfg.Feedback.Window, 30*time.Minute)
	a.Archive = archive.NewService(a.BlobStore, a.Scheduler, a.TimerRegistry, cfg.Storage.Prefix, window, a.Logger)
	if err := a.Archive.RegisterSweep(cfg.Feedback.SweepSchedule); err != nil {
		return fmt.Errorf("failed to register orphan sweep: %w", err)
	}

	a.PDF = pdf.NewService(&cfg.PDF, a.Logger)

	a.Pipeline = pipeline.NewService(
		a.PDF,
		a.Locator,
		tables.NewExtractor(a.OCR, a.Logger),
		ladder,
		report.NewRenderer(a.Logger),
		a.Archive,
		a.Prompts,
		pipeline.Config{
			MaxFileBytes:   int64(cfg.Bot.MaxFileMB) << 20,
			MaxPages:       cfg.Bot.MaxPages,
			PreviewDPI:     cfg.Bot.PreviewDPI,
			OCRDPI:         cfg.Bot.OCRDPI,
			MaxImageBytes:  cfg.OCR.MaxImageMB << 20,
			MaxImageSide:   cfg.OCR.MaxImageSide,
			FeedbackWindow: window,
		},
		a.Logger,
	)

	a.Logger.Debug().
		Str("find_model", cfg.LLM.FindModel).
		Str("extract_model", cfg.LLM.ExtractModel).
		Str("storage", cfg.Storage.Type).
		Str("prefix", cfg.Storage.Prefix).
		Dur("feedback_window", window).
		Msg("Services initialized")

	return nil
}

// RunBot connects to Telegram and serves chats until ctx is done
func (a *App) RunBot(ctx context.Context) error {
	client, err := bot.NewTelegramClient(a.Config.Bot.Token, a.Config.Bot.PollTimeout, a.Config.Bot.Debug, a.Logger)
	if err != nil {
		return err
	}

	b := bot.New(client, a.Pipeline, bot.Config{
		MaxFileMB:     a.Config.Bot.MaxFileMB,
		MaxPages:      a.Config.Bot.MaxPages,
		ReportPrefix:  a.Config.Bot.ReportPrefix,
		SessionMaxAge: common.ParseDurationOr(a.Config.Bot.SessionMaxAge, 2*time.Hour),
	}, a.Logger)

	if err := b.RegisterCleanup(a.Scheduler, "@every 10m"); err != nil {
		return fmt.Errorf("failed to register session cleanup: %w", err)
	}

	b.Run(ctx, client)
	return nil
}

// Close stops background callbacks and releases client resources
func (a *App) Close() error {
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		a.Logger.Info().
			Int("pending_timers", a.Scheduler.PendingTimers()).
			Msg("Stopping scheduler; pending feedback records are left to the orphan sweep")
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.TimerRegistry != nil {
		a.TimerRegistry.CancelAll()
	}

	if a.OCR != nil {
		if err := a.OCR.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close OCR service")
		}
	}

	if a.Provider != nil {
		if err := a.Provider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close model provider")
		}
	}

	if a.BlobStore != nil {
		if err := a.BlobStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close archive storage")
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
