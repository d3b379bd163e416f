package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
)

const jsonOnlyInstruction = "Respond with a single valid JSON value only, without markdown fences or commentary."

// ClaudeProvider generates content with the Anthropic Messages API.
// Documents are always sent inline.
type ClaudeProvider struct {
	client    anthropic.Client
	maxTokens int
	logger    arbor.ILogger
}

// NewClaudeProvider creates a Claude provider
func NewClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("claude.api_key is required for the claude provider")
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16384
	}

	return &ClaudeProvider{
		client: anthropic.NewClient(
			option.WithAPIKey(config.APIKey),
		),
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Name returns the provider name for logging
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Generate performs one Messages.New call
func (p *ClaudeProvider) Generate(ctx context.Context, req *interfaces.GenerateRequest) (interfaces.ModelResponse, error) {
	if req.File != nil {
		return nil, fmt.Errorf("claude provider does not accept uploaded files (got %s)", req.File.Name)
	}

	var blocks []anthropic.ContentBlockParamUnion
	if req.Inline != nil {
		encoded := base64.StdEncoding.EncodeToString(req.Inline.Data)
		if strings.HasPrefix(req.Inline.MIMEType, "image/") {
			blocks = append(blocks, anthropic.NewImageBlockBase64(req.Inline.MIMEType, encoded))
		} else {
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded}))
		}
	}

	text := req.Prompt
	if req.Text != "" {
		text += "\n\n" + req.Text
	}
	blocks = append(blocks, anthropic.NewTextBlock(text))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.JSON {
		params.System = []anthropic.TextBlockParam{
			{Text: jsonOnlyInstruction},
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude generate (model %s): %w", req.Model, err)
	}

	if string(resp.StopReason) == "refusal" {
		return nil, fmt.Errorf("%w: claude stop reason refusal", interfaces.ErrContentBlocked)
	}

	return claudeResponse{msg: resp}, nil
}

// Close is a no-op; the HTTP client has no resources to release
func (p *ClaudeProvider) Close() error {
	return nil
}
