// Package pagelocator asks a multimodal model which page of a drawing
// set carries the steel specification table.
package pagelocator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/services/llm"
	"github.com/AyanbekDos/smeta-2/internal/services/prompts"
	"github.com/ternarybob/arbor"
)

const (
	callerTag      = "find_and_validate"
	pdfMIMEType    = "application/pdf"
	cleanupTimeout = 30 * time.Second
)

// Result is the outcome of a location attempt. Page is 1-based.
type Result struct {
	Found bool
	Page  int
}

// Config holds the model settings for page location
type Config struct {
	Model        string
	Temperature  float32
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// Service locates the specification page of a document
type Service struct {
	provider interfaces.ModelProvider
	invoker  *llm.Invoker
	waiter   *llm.ReadinessWaiter
	parser   *llm.ResponseParser
	prompts  interfaces.PromptStore
	config   Config
	logger   arbor.ILogger
}

// NewService creates a page locator
func NewService(provider interfaces.ModelProvider, invoker *llm.Invoker, waiter *llm.ReadinessWaiter, parser *llm.ResponseParser, promptStore interfaces.PromptStore, config Config, logger arbor.ILogger) *Service {
	return &Service{
		provider: provider,
		invoker:  invoker,
		waiter:   waiter,
		parser:   parser,
		prompts:  promptStore,
		config:   config,
		logger:   logger,
	}
}

type locateResponse struct {
	Page json.RawMessage `json:"page"`
}

// Locate sends the document to the model and reads back {"page": n}.
// A missing or non-positive page means not found. No upper bound is checked.
func (s *Service) Locate(ctx context.Context, document []byte, documentName, sessionID string) (Result, error) {
	prompt := s.prompts.Load(prompts.FindAndValidate)
	if prompt == "" {
		return Result{}, fmt.Errorf("%w: %s", interfaces.ErrPromptMissing, prompts.FindAndValidate)
	}

	logger := s.logger.WithCorrelationId(sessionID)

	req := &interfaces.GenerateRequest{
		Model:       s.config.Model,
		Prompt:      prompt,
		JSON:        true,
		Temperature: s.config.Temperature,
	}

	if files, ok := s.provider.(interfaces.FileStore); ok && files.RequiresUpload() {
		handle, err := files.UploadFile(ctx, document, pdfMIMEType, documentName)
		if err != nil {
			return Result{}, fmt.Errorf("failed to upload document: %w", err)
		}
		defer s.deleteFile(files, handle, logger)

		logger.Debug().Str("file", handle.Name).Msg("Document uploaded, waiting for processing")

		ready, err := s.waiter.WaitUntilActive(ctx, files, handle, s.config.ReadyTimeout, s.config.PollInterval)
		if err != nil {
			return Result{}, err
		}
		req.File = ready
	} else {
		req.Inline = &interfaces.InlineDocument{Data: document, MIMEType: pdfMIMEType}
	}

	resp, err := s.invoker.Invoke(ctx, s.provider, req)
	if err != nil {
		return Result{}, err
	}

	var out locateResponse
	if err := s.parser.ExtractJSON(ctx, resp, sessionID, callerTag, &out); err != nil {
		return Result{}, err
	}

	page := parsePage(out.Page)
	if page <= 0 {
		logger.Info().Str("document", documentName).Msg("Specification page not found")
		return Result{Found: false}, nil
	}

	logger.Info().
		Str("document", documentName).
		Int("page", page).
		Msg("Specification page located")

	return Result{Found: true, Page: page}, nil
}

func (s *Service) deleteFile(files interfaces.FileStore, handle *interfaces.FileHandle, logger arbor.ILogger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := files.DeleteFile(ctx, handle); err != nil {
		logger.Warn().Err(err).Str("file", handle.Name).Msg("Failed to delete uploaded document")
	}
}

// parsePage accepts a number or a numeric string; anything else is 0
func parsePage(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		raw = []byte(strings.TrimSpace(text))
	}

	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0
	}
	return int(v)
}
