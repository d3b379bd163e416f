package pagelocator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type stubPrompts map[string]string

func (p stubPrompts) Load(name string) string { return p[name] }

type inlineProvider struct {
	text     string
	err      error
	requests []*interfaces.GenerateRequest
}

func (p *inlineProvider) Generate(_ context.Context, req *interfaces.GenerateRequest) (interfaces.ModelResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return llm.TextResponse(p.text), nil
}

func (p *inlineProvider) Name() string { return "inline" }
func (p *inlineProvider) Close() error { return nil }

// uploadProvider requires uploads and reports the file active on the second poll
type uploadProvider struct {
	inlineProvider
	polls     int
	deleted   []string
	deleteErr error
}

func (p *uploadProvider) RequiresUpload() bool { return true }

func (p *uploadProvider) UploadFile(_ context.Context, _ []byte, mimeType, displayName string) (*interfaces.FileHandle, error) {
	return &interfaces.FileHandle{Name: "files/" + displayName, URI: "https://files/" + displayName, MIMEType: mimeType}, nil
}

func (p *uploadProvider) GetFileState(context.Context, *interfaces.FileHandle) (any, error) {
	p.polls++
	if p.polls < 2 {
		return "PROCESSING", nil
	}
	return "ACTIVE", nil
}

func (p *uploadProvider) DeleteFile(_ context.Context, handle *interfaces.FileHandle) error {
	p.deleted = append(p.deleted, handle.Name)
	return p.deleteErr
}

func newLocator(provider interfaces.ModelProvider, store interfaces.PromptStore) *Service {
	logger := arbor.NewLogger()
	noWait := func(context.Context, time.Duration) error { return nil }
	invoker := llm.NewInvoker(llm.RetryConfig{MaxAttempts: 1, AttemptTimeout: time.Second}, nil, logger).WithSleeper(noWait)
	waiter := llm.NewReadinessWaiter(logger).WithClock(time.Now, noWait)
	parser := llm.NewResponseParser(nil, logger)

	return NewService(provider, invoker, waiter, parser, store, Config{
		Model:        "find-model",
		Temperature:  0.1,
		ReadyTimeout: time.Minute,
		PollInterval: time.Second,
	}, logger)
}

var defaultPrompts = stubPrompts{"find_and_validate": "Найди страницу со спецификацией"}

func TestLocate_PageContract(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected Result
	}{
		{"page zero", `{"page": 0}`, Result{Found: false}},
		{"page five", `{"page": 5}`, Result{Found: true, Page: 5}},
		{"page missing", `{"reason": "no table"}`, Result{Found: false}},
		{"page null", `{"page": null}`, Result{Found: false}},
		{"negative page", `{"page": -2}`, Result{Found: false}},
		{"page as string", "```json\n{\"page\": \"7\"}\n```", Result{Found: true, Page: 7}},
		{"page beyond document", `{"page": 500}`, Result{Found: true, Page: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &inlineProvider{text: tt.response}
			result, err := newLocator(provider, defaultPrompts).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLocate_InlineRequest(t *testing.T) {
	provider := &inlineProvider{text: `{"page": 2}`}
	_, err := newLocator(provider, defaultPrompts).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "find-model", req.Model)
	assert.True(t, req.JSON)
	assert.Nil(t, req.File)
	require.NotNil(t, req.Inline)
	assert.Equal(t, "application/pdf", req.Inline.MIMEType)
	assert.Equal(t, defaultPrompts["find_and_validate"], req.Prompt)
}

func TestLocate_UploadWaitAndDelete(t *testing.T) {
	provider := &uploadProvider{inlineProvider: inlineProvider{text: `{"page": 3}`}}
	result, err := newLocator(provider, defaultPrompts).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
	require.NoError(t, err)
	assert.Equal(t, Result{Found: true, Page: 3}, result)

	assert.Equal(t, 2, provider.polls)
	require.Len(t, provider.requests, 1)
	require.NotNil(t, provider.requests[0].File)
	assert.Nil(t, provider.requests[0].Inline)
	assert.Equal(t, []string{"files/plan.pdf"}, provider.deleted)
}

func TestLocate_DeleteFailureIsIgnored(t *testing.T) {
	provider := &uploadProvider{inlineProvider: inlineProvider{text: `{"page": 1}`}, deleteErr: errors.New("gone")}
	result, err := newLocator(provider, defaultPrompts).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Len(t, provider.deleted, 1)
}

func TestLocate_FileDeletedOnModelError(t *testing.T) {
	provider := &uploadProvider{inlineProvider: inlineProvider{err: interfaces.ErrContentBlocked}}
	_, err := newLocator(provider, defaultPrompts).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
	assert.True(t, errors.Is(err, interfaces.ErrContentBlocked))
	assert.Len(t, provider.deleted, 1)
}

func TestLocate_MissingPrompt(t *testing.T) {
	provider := &inlineProvider{text: `{"page": 1}`}
	_, err := newLocator(provider, stubPrompts{}).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
	assert.True(t, errors.Is(err, interfaces.ErrPromptMissing))
	assert.Empty(t, provider.requests)
}

func TestLocate_MalformedOutput(t *testing.T) {
	provider := &inlineProvider{text: "страница не найдена"}
	_, err := newLocator(provider, defaultPrompts).Locate(context.Background(), []byte("%PDF"), "plan.pdf", "ses_1")
	assert.True(t, errors.Is(err, interfaces.ErrMalformedModelOutput))
}
