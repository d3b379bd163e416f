package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// Default readiness polling constants
const (
	DefaultFileReadyTimeout = 60 * time.Second
	DefaultFilePollInterval = 2 * time.Second
)

// NormalizeFileState maps the state representations used by provider SDKs
// (names with or without a STATE_ prefix, numeric codes, genai.FileState)
// to a single FileState
func NormalizeFileState(raw any) interfaces.FileState {
	switch v := raw.(type) {
	case nil:
		return interfaces.FileStateUnknown
	case interfaces.FileState:
		return v
	case genai.FileState:
		return normalizeStateName(string(v))
	case string:
		return normalizeStateName(v)
	case int:
		return normalizeStateCode(int64(v))
	case int32:
		return normalizeStateCode(int64(v))
	case int64:
		return normalizeStateCode(v)
	case float64:
		return normalizeStateCode(int64(v))
	case fmt.Stringer:
		return normalizeStateName(v.String())
	default:
		return interfaces.FileStateUnknown
	}
}

func normalizeStateName(name string) interfaces.FileState {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "STATE_")

	switch name {
	case "ACTIVE", "READY", "SUCCEEDED":
		return interfaces.FileStateActive
	case "PROCESSING", "PENDING", "UPLOADING", "RUNNING":
		return interfaces.FileStateProcessing
	case "FAILED", "ERROR":
		return interfaces.FileStateFailed
	default:
		return interfaces.FileStateUnknown
	}
}

func normalizeStateCode(code int64) interfaces.FileState {
	switch code {
	case 1:
		return interfaces.FileStateProcessing
	case 2:
		return interfaces.FileStateActive
	case 10:
		return interfaces.FileStateFailed
	default:
		return interfaces.FileStateUnknown
	}
}

// ReadinessWaiter polls an uploaded file until the provider reports it usable
type ReadinessWaiter struct {
	now    func() time.Time
	sleep  Sleeper
	logger arbor.ILogger
}

// NewReadinessWaiter creates a waiter on the real clock
func NewReadinessWaiter(logger arbor.ILogger) *ReadinessWaiter {
	return &ReadinessWaiter{
		now:    time.Now,
		sleep:  common.SleepContext,
		logger: logger,
	}
}

// WithClock replaces the clock and the poll wait
func (w *ReadinessWaiter) WithClock(now func() time.Time, sleep Sleeper) *ReadinessWaiter {
	w.now = now
	w.sleep = sleep
	return w
}

// WaitUntilActive polls until the file is active (returns handle), failed
// (ErrFileProcessingFailed) or timeout elapses (ErrTimeout)
func (w *ReadinessWaiter) WaitUntilActive(ctx context.Context, files interfaces.FileStore, handle *interfaces.FileHandle, timeout, pollInterval time.Duration) (*interfaces.FileHandle, error) {
	if timeout <= 0 {
		timeout = DefaultFileReadyTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultFilePollInterval
	}

	started := w.now()
	deadline := started.Add(timeout)
	polls := 0

	for {
		raw, err := files.GetFileState(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("failed to get state of file %s: %w", handle.Name, err)
		}
		polls++

		state := NormalizeFileState(raw)
		switch state {
		case interfaces.FileStateActive:
			w.logger.Debug().
				Str("file", handle.Name).
				Int("polls", polls).
				Dur("waited", w.now().Sub(started)).
				Msg("Uploaded file is active")
			return handle, nil
		case interfaces.FileStateFailed:
			return nil, fmt.Errorf("%w: %s", interfaces.ErrFileProcessingFailed, handle.Name)
		}

		if !w.now().Before(deadline) {
			return nil, fmt.Errorf("%w: file %s not active after %s (last state %s)", interfaces.ErrTimeout, handle.Name, timeout, state)
		}

		if err := w.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}
