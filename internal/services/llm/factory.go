package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// NewProvider creates the model provider selected by llm.provider
func NewProvider(ctx context.Context, config *common.Config, logger arbor.ILogger) (interfaces.ModelProvider, error) {
	switch config.LLM.Provider {
	case common.LLMProviderGemini, "":
		return NewGeminiProvider(ctx, &config.Gemini, false, logger)
	case common.LLMProviderVertex:
		return NewGeminiProvider(ctx, &config.Gemini, true, logger)
	case common.LLMProviderClaude:
		return NewClaudeProvider(&config.Claude, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.LLM.Provider)
	}
}

// NewInvokerFromConfig builds the retry policy and rate limiter for the selected provider
func NewInvokerFromConfig(config *common.Config, logger arbor.ILogger) *Invoker {
	timeout, rateLimit := config.Gemini.Timeout, config.Gemini.RateLimit
	if config.LLM.Provider == common.LLMProviderClaude {
		timeout, rateLimit = config.Claude.Timeout, config.Claude.RateLimit
	}

	retry := NewDefaultRetryConfig()
	if config.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = config.Retry.MaxAttempts
	}
	retry.BaseBackoff = common.ParseDurationOr(config.Retry.BaseBackoff, retry.BaseBackoff)
	retry.AttemptTimeout = common.ParseDurationOr(timeout, retry.AttemptTimeout)

	var limiter *rate.Limiter
	if interval := common.ParseDurationOr(rateLimit, 0); interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return NewInvoker(retry, limiter, logger)
}

// Temperature returns the configured generation temperature for the selected provider
func Temperature(config *common.Config) float32 {
	if config.LLM.Provider == common.LLMProviderClaude {
		return config.Claude.Temperature
	}
	return config.Gemini.Temperature
}

// ReadinessBudget returns the file readiness timeout and poll interval
func ReadinessBudget(config *common.Config) (time.Duration, time.Duration) {
	return common.ParseDurationOr(config.Gemini.FileReadyTimeout, DefaultFileReadyTimeout),
		common.ParseDurationOr(config.Gemini.FilePollInterval, DefaultFilePollInterval)
}
