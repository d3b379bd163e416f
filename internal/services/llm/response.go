package llm

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"
)

// TextResponse is a ModelResponse over plain text
type TextResponse string

// Text returns the text, or ErrEmptyResponse when it is blank
func (r TextResponse) Text() (string, error) {
	if strings.TrimSpace(string(r)) == "" {
		return "", interfaces.ErrEmptyResponse
	}
	return string(r), nil
}

// genaiResponse adapts a Gemini response
type genaiResponse struct {
	resp *genai.GenerateContentResponse
}

// Text prefers the SDK accessor and falls back to walking candidate parts,
// including inline data parts some models use for JSON output
func (r genaiResponse) Text() (string, error) {
	if r.resp == nil {
		return "", interfaces.ErrEmptyResponse
	}

	if text := r.resp.Text(); strings.TrimSpace(text) != "" {
		return text, nil
	}

	var sb strings.Builder
	for _, candidate := range r.resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				sb.WriteString(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				sb.WriteString(decodeInlineData(part.InlineData.Data))
			}
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", interfaces.ErrEmptyResponse
	}
	return sb.String(), nil
}

// decodeInlineData returns inline bytes as text, base64-decoding them when they
// are an encoded payload rather than raw UTF-8
func decodeInlineData(data []byte) string {
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return string(data)
}

// claudeResponse adapts an Anthropic message
type claudeResponse struct {
	msg *anthropic.Message
}

// Text concatenates the text blocks of the message
func (r claudeResponse) Text() (string, error) {
	if r.msg == nil {
		return "", interfaces.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, block := range r.msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", interfaces.ErrEmptyResponse
	}
	return sb.String(), nil
}
