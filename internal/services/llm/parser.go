package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
)

var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?[ \\t]*\\n?(.*?)\\n?\\s*```\\s*$")

// StripCodeFence removes a surrounding markdown code fence (```json or bare ```).
// Applying it twice gives the same result as applying it once.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	for {
		matches := fencePattern.FindStringSubmatch(s)
		if len(matches) < 2 {
			return s
		}
		next := strings.TrimSpace(matches[1])
		if next == s {
			return s
		}
		s = next
	}
}

// ExtractJSONSpan returns the first balanced span that starts at the first
// occurrence of open. Both bracket kinds are tracked, so a span whose
// brackets interleave (e.g. `{[}`) is rejected. Brackets inside string
// literals are ignored.
func ExtractJSONSpan(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	var closers []byte
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) == 0 || closers[len(closers)-1] != c {
				return "", false
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				if c != close {
					return "", false
				}
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// ResponseParser turns model output into typed values, repairing common
// wrapping noise and dumping what it cannot parse
type ResponseParser struct {
	sink   interfaces.DiagnosticSink
	logger arbor.ILogger
}

// NewResponseParser creates a parser. sink may be nil.
func NewResponseParser(sink interfaces.DiagnosticSink, logger arbor.ILogger) *ResponseParser {
	return &ResponseParser{
		sink:   sink,
		logger: logger,
	}
}

// ExtractJSON reads the response text and decodes it into target
func (p *ResponseParser) ExtractJSON(ctx context.Context, resp interfaces.ModelResponse, sessionID, callerTag string, target any) error {
	if resp == nil {
		return interfaces.ErrEmptyResponse
	}
	raw, err := resp.Text()
	if err != nil {
		return err
	}
	return p.ExtractJSONText(ctx, raw, sessionID, callerTag, target)
}

// ExtractJSONText decodes raw model text into target. It tries the whole
// text, then the first balanced object, then the first balanced array.
func (p *ResponseParser) ExtractJSONText(ctx context.Context, raw, sessionID, callerTag string, target any) error {
	if strings.TrimSpace(raw) == "" {
		return interfaces.ErrEmptyResponse
	}

	text := StripCodeFence(raw)

	candidates := []string{text}
	if span, ok := ExtractJSONSpan(text, '{', '}'); ok {
		candidates = append(candidates, span)
	}
	if span, ok := ExtractJSONSpan(text, '[', ']'); ok {
		candidates = append(candidates, span)
	}

	var lastErr error
	for i, candidate := range candidates {
		if !json.Valid([]byte(candidate)) {
			lastErr = errors.New("invalid JSON")
			continue
		}
		if err := json.Unmarshal([]byte(candidate), target); err != nil {
			lastErr = err
			continue
		}
		if i > 0 {
			p.logger.Debug().
				Str("caller", callerTag).
				Int("candidate", i).
				Msg("Recovered JSON from surrounding text")
		}
		return nil
	}

	p.logger.Warn().
		Str("session_id", sessionID).
		Str("caller", callerTag).
		Int("raw_length", len(raw)).
		Err(lastErr).
		Msg("Model output is not parseable JSON")

	if p.sink != nil {
		p.sink.Dump(ctx, sessionID, callerTag, raw)
	}

	return fmt.Errorf("%w (%s): %w", interfaces.ErrMalformedModelOutput, callerTag, lastErr)
}
