package structuring

import (
	"context"
	"fmt"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/ternarybob/arbor"
)

// Input is what every strategy receives
type Input struct {
	TableText string // Serialized table HTML
	SessionID string
	ChatID    int64
}

// Strategy is one way of turning table text into a specification
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, in Input) (*models.Specification, error)
}

// terminal is implemented by strategies that cannot fail
type terminal interface {
	Terminal() bool
}

// Outcome is the result of a ladder run
type Outcome struct {
	Spec     *models.Specification
	Strategy string
	Degraded bool
}

// progressMessages are sent to the user before a strategy is tried after a failure
var progressMessages = map[string]string{
	PlainTextStrategyName: "⚠️ Не удалось разобрать таблицу полностью, пробую упрощённый способ...",
	DegradedStrategyName:  "⚠️ Автоматическое извлечение не удалось. Сохраняю результат для ручной проверки...",
}

// Ladder runs strategies in order until one succeeds
type Ladder struct {
	strategies []Strategy
	logger     arbor.ILogger
}

// NewLadder creates a ladder. A DegradedStrategy is appended when the list
// does not already end with a terminal strategy, so Structure always returns.
func NewLadder(logger arbor.ILogger, strategies ...Strategy) *Ladder {
	list := append([]Strategy(nil), strategies...)
	if len(list) == 0 || !isTerminal(list[len(list)-1]) {
		list = append(list, NewDegradedStrategy())
	}
	return &Ladder{
		strategies: list,
		logger:     logger,
	}
}

func isTerminal(s Strategy) bool {
	t, ok := s.(terminal)
	return ok && t.Terminal()
}

// Strategies returns the effective strategy order
func (l *Ladder) Strategies() []string {
	names := make([]string, len(l.strategies))
	for i, s := range l.strategies {
		names[i] = s.Name()
	}
	return names
}

// Structure returns the first successful strategy result. It never fails.
func (l *Ladder) Structure(ctx context.Context, in Input, notifier interfaces.Notifier) Outcome {
	logger := l.logger.WithCorrelationId(in.SessionID)

	for i, strategy := range l.strategies {
		if i > 0 && notifier != nil {
			message, ok := progressMessages[strategy.Name()]
			if !ok {
				message = fmt.Sprintf("⚠️ Пробую другой способ извлечения (%s)...", strategy.Name())
			}
			if err := notifier.Notify(ctx, in.ChatID, message); err != nil {
				logger.Debug().Err(err).Msg("Progress notification failed")
			}
		}

		started := time.Now()
		spec, err := l.attempt(ctx, strategy, in)
		if err == nil && spec != nil {
			logger.Info().
				Str("strategy", strategy.Name()).
				Int("profiles", spec.ProfileCount()).
				Int("elements", spec.ElementCount()).
				Dur("duration", time.Since(started)).
				Msg("Structuring succeeded")
			return Outcome{
				Spec:     spec,
				Strategy: strategy.Name(),
				Degraded: isTerminal(strategy),
			}
		}
		if err == nil {
			err = fmt.Errorf("strategy returned no specification")
		}

		logger.Warn().
			Str("strategy", strategy.Name()).
			Int("step", i+1).
			Int("steps", len(l.strategies)).
			Err(err).
			Msg("Structuring strategy failed")
	}

	// Only reached when a terminal strategy returned nil
	fallback := NewDegradedStrategy()
	spec, _ := fallback.Attempt(ctx, in)
	return Outcome{Spec: spec, Strategy: fallback.Name(), Degraded: true}
}

// attempt isolates a panicking strategy so the ladder can continue
func (l *Ladder) attempt(ctx context.Context, strategy Strategy, in Input) (spec *models.Specification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", strategy.Name(), r)
		}
	}()
	return strategy.Attempt(ctx, in)
}
