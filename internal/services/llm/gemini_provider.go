package llm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// blockedFinishReasons are candidate finish reasons that mean a policy refusal
var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

// GeminiProvider generates content with Gemini through either the Gemini API
// (API key, Files API uploads) or Vertex AI (inline documents)
type GeminiProvider struct {
	client *genai.Client
	vertex bool
	logger arbor.ILogger
}

// NewGeminiProvider creates a Gemini provider. vertex selects the Vertex AI backend.
func NewGeminiProvider(ctx context.Context, config *common.GeminiConfig, vertex bool, logger arbor.ILogger) (*GeminiProvider, error) {
	clientConfig := &genai.ClientConfig{}
	if vertex {
		if config.Project == "" || config.Location == "" {
			return nil, fmt.Errorf("gemini.project and gemini.location are required for the vertex provider")
		}
		clientConfig.Project = config.Project
		clientConfig.Location = config.Location
		clientConfig.Backend = genai.BackendVertexAI
	} else {
		if config.APIKey == "" {
			return nil, fmt.Errorf("gemini.api_key is required for the gemini provider")
		}
		clientConfig.APIKey = config.APIKey
		clientConfig.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Debug().
		Bool("vertex", vertex).
		Str("location", config.Location).
		Msg("Gemini client created")

	return &GeminiProvider{
		client: client,
		vertex: vertex,
		logger: logger,
	}, nil
}

// Name returns the provider name for logging
func (p *GeminiProvider) Name() string {
	if p.vertex {
		return "vertex"
	}
	return "gemini"
}

// Generate performs one GenerateContent call
func (p *GeminiProvider) Generate(ctx context.Context, req *interfaces.GenerateRequest) (interfaces.ModelResponse, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}

	switch {
	case req.File != nil:
		parts = append(parts, genai.NewPartFromURI(req.File.URI, req.File.MIMEType))
	case req.Inline != nil:
		parts = append(parts, genai.NewPartFromBytes(req.Inline.Data, req.Inline.MIMEType))
	}
	if req.Text != "" {
		parts = append(parts, genai.NewPartFromText(req.Text))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate (model %s): %w", req.Model, err)
	}

	if reason := blockReason(resp); reason != "" {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrContentBlocked, reason)
	}

	return genaiResponse{resp: resp}, nil
}

// blockReason returns the refusal reason of a response, or "" when it was not blocked
func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil {
		reason := string(resp.PromptFeedback.BlockReason)
		if reason != "" && reason != "BLOCKED_REASON_UNSPECIFIED" {
			return "prompt blocked: " + reason
		}
	}
	for _, candidate := range resp.Candidates {
		if candidate != nil && blockedFinishReasons[string(candidate.FinishReason)] {
			return "candidate finished with " + string(candidate.FinishReason)
		}
	}
	return ""
}

// RequiresUpload is true for the Gemini API; Vertex receives documents inline
func (p *GeminiProvider) RequiresUpload() bool {
	return !p.vertex
}

// UploadFile uploads a document through the Files API
func (p *GeminiProvider) UploadFile(ctx context.Context, data []byte, mimeType, displayName string) (*interfaces.FileHandle, error) {
	file, err := p.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", displayName, err)
	}

	p.logger.Debug().
		Str("file", file.Name).
		Str("display_name", displayName).
		Int("bytes", len(data)).
		Msg("Document uploaded")

	mime := file.MIMEType
	if mime == "" {
		mime = mimeType
	}
	return &interfaces.FileHandle{
		Name:     file.Name,
		URI:      file.URI,
		MIMEType: mime,
	}, nil
}

// GetFileState returns the raw genai.FileState of an uploaded file
func (p *GeminiProvider) GetFileState(ctx context.Context, handle *interfaces.FileHandle) (any, error) {
	file, err := p.client.Files.Get(ctx, handle.Name, nil)
	if err != nil {
		return nil, err
	}
	return file.State, nil
}

// DeleteFile removes an uploaded file
func (p *GeminiProvider) DeleteFile(ctx context.Context, handle *interfaces.FileHandle) error {
	if _, err := p.client.Files.Delete(ctx, handle.Name, nil); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", handle.Name, err)
	}
	return nil
}

// Close releases the client
func (p *GeminiProvider) Close() error {
	p.client = nil
	return nil
}
