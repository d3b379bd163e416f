package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// Invoker calls a model provider with bounded retries, exponential backoff
// and a hard per-attempt timeout
type Invoker struct {
	config  RetryConfig
	limiter *rate.Limiter
	sleep   Sleeper
	logger  arbor.ILogger
}

// NewInvoker creates an invoker. limiter may be nil.
func NewInvoker(config RetryConfig, limiter *rate.Limiter, logger arbor.ILogger) *Invoker {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Invoker{
		config:  config,
		limiter: limiter,
		sleep:   common.SleepContext,
		logger:  logger,
	}
}

// WithSleeper replaces the backoff wait, mainly for tests
func (i *Invoker) WithSleeper(sleep Sleeper) *Invoker {
	i.sleep = sleep
	return i
}

// Config returns the retry policy in use
func (i *Invoker) Config() RetryConfig {
	return i.config
}

type attemptResult struct {
	resp interfaces.ModelResponse
	err  error
}

// Invoke runs req against provider. Retryable failures are retried up to
// MaxAttempts times; exhaustion yields ErrModelUnavailable wrapping the last cause.
func (i *Invoker) Invoke(ctx context.Context, provider interfaces.ModelProvider, req *interfaces.GenerateRequest) (interfaces.ModelResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= i.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		resp, err := i.attempt(ctx, provider, req)
		if err == nil {
			if attempt > 1 {
				i.logger.Info().
					Str("provider", provider.Name()).
					Str("model", req.Model).
					Int("attempt", attempt).
					Msg("Model call succeeded after retry")
			}
			return resp, nil
		}

		// Parent cancellation is never retried
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if !IsRetryableError(err) {
			return nil, err
		}

		lastErr = err
		if attempt == i.config.MaxAttempts {
			break
		}

		backoff := i.config.Backoff(attempt)
		i.logger.Warn().
			Str("provider", provider.Name()).
			Str("model", req.Model).
			Int("attempt", attempt).
			Int("max_attempts", i.config.MaxAttempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("Retrying model call")

		if err := i.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	i.logger.Error().
		Str("provider", provider.Name()).
		Str("model", req.Model).
		Int("attempts", i.config.MaxAttempts).
		Err(lastErr).
		Msg("Model call failed after all attempts")

	return nil, fmt.Errorf("%w after %d attempts: %w", interfaces.ErrModelUnavailable, i.config.MaxAttempts, lastErr)
}

// attempt runs one Generate call bounded by the attempt timeout. The result
// is abandoned if the deadline passes, even when the provider ignores ctx.
func (i *Invoker) attempt(ctx context.Context, provider interfaces.ModelProvider, req *interfaces.GenerateRequest) (interfaces.ModelResponse, error) {
	attemptCtx := ctx
	if i.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, i.config.AttemptTimeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		resp, err := provider.Generate(attemptCtx, req)
		done <- attemptResult{resp: resp, err: err}
	}()

	select {
	case result := <-done:
		if result.err == nil && result.resp == nil {
			return nil, interfaces.ErrEmptyResponse
		}
		return result.resp, result.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("model call timeout after %s: %w", i.config.AttemptTimeout, context.DeadlineExceeded)
		}
		return nil, attemptCtx.Err()
	}
}
