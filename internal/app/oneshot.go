package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/services/pipeline"
	"github.com/ternarybob/arbor"
)

// consoleNotifier routes user-facing notices to the log in one-shot mode
type consoleNotifier struct {
	logger arbor.ILogger
}

func (n consoleNotifier) Notify(_ context.Context, _ int64, message string) error {
	n.logger.Warn().Str("notice", message).Msg("Pipeline notice")
	return nil
}

// ProcessFile runs one local PDF through the pipeline without Telegram and
// writes both reports to outDir. A page of 0 asks the model to locate it.
func (a *App) ProcessFile(ctx context.Context, path string, page int, outDir string) (*pipeline.Result, error) {
	document, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	sessionID := common.NewSessionID()
	logger := a.Logger.WithCorrelationId(sessionID)
	name := filepath.Base(path)

	pages, err := a.Pipeline.Validate(document)
	if err != nil {
		return nil, err
	}

	if page == 0 {
		located, err := a.Pipeline.Locate(ctx, document, name, sessionID)
		if err != nil {
			return nil, err
		}
		if !located.Found || located.Page > pages {
			return nil, fmt.Errorf("specification page not found in %s, pass -page", name)
		}
		page = located.Page
		logger.Info().Int("page", page).Int("pages", pages).Msg("Specification page located")
	}

	result, err := a.Pipeline.Process(ctx, pipeline.Request{
		SessionID:    sessionID,
		DocumentName: name,
		Document:     document,
		PageCount:    pages,
		Page:         page,
	}, consoleNotifier{logger: logger})
	if err != nil {
		return nil, err
	}

	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	prefix := a.Config.Bot.ReportPrefix
	if prefix == "" {
		prefix = "specification"
	}
	outputs := map[string][]byte{
		prefix + ".xlsx": result.Report.XLSX,
		prefix + ".txt":  result.Report.Text,
	}
	for file, data := range outputs {
		target := filepath.Join(outDir, file)
		if err := os.WriteFile(target, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", target, err)
		}
	}

	logger.Info().
		Str("out", outDir).
		Int("rows", result.Report.Rows).
		Str("strategy", result.Strategy).
		Str("archive", result.ArchivePath).
		Msg("Reports written")

	return result, nil
}
