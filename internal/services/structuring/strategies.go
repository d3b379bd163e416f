package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/AyanbekDos/smeta-2/internal/services/llm"
	"github.com/AyanbekDos/smeta-2/internal/services/prompts"
	"github.com/AyanbekDos/smeta-2/internal/services/tables"
)

// Strategy names
const (
	FullPromptStrategyName = "full_prompt"
	PlainTextStrategyName  = "plain_text"
	DegradedStrategyName   = "degraded"
)

// PlainTextBudget is the rune budget of the plain-text fallback input
const PlainTextBudget = 3000

// Degraded specification labels
const (
	DegradedUnit    = "шт"
	DegradedProfile = "Требует ручной проверки"
	DegradedGrade   = "не определена"
	DegradedSize    = "не определен"
)

// degradedMassTokens is how many numeric tokens are summed into the degraded mass
const degradedMassTokens = 10

const plainTextPrompt = `Ниже текст таблицы спецификации металлопроката, извлечённый OCR без разметки.
Восстанови структуру и верни только JSON без пояснений и без markdown в формате:
{"единица_измерения": "т", "профили": {"<профиль>": {"марки_стали": {"<марка>": {"размеры": {"<размер>": {"элементы": [{"тип": "<тип>", "позиции": ["<позиция>"], "масса": 0.0}]}}}}}}}
Если масса не читается, укажи null. Строки итогов не включай.

Текст таблицы:`

// Generator performs one structured generation: invoke, parse, validate, decode
type Generator struct {
	Provider    interfaces.ModelProvider
	Invoker     *llm.Invoker
	Parser      *llm.ResponseParser
	Validator   *SchemaValidator
	Model       string
	Temperature float32
}

func (g *Generator) generate(ctx context.Context, prompt, text, sessionID, tag string) (*models.Specification, error) {
	resp, err := g.Invoker.Invoke(ctx, g.Provider, &interfaces.GenerateRequest{
		Model:       g.Model,
		Prompt:      prompt,
		Text:        text,
		JSON:        true,
		Temperature: g.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := g.Parser.ExtractJSON(ctx, resp, sessionID, tag, &raw); err != nil {
		return nil, err
	}

	if g.Validator != nil {
		if err := g.Validator.Validate(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrMalformedModelOutput, err)
		}
	}

	var spec models.Specification
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrMalformedModelOutput, err)
	}
	if spec.ElementCount() == 0 {
		return nil, fmt.Errorf("%w: specification has no elements", interfaces.ErrMalformedModelOutput)
	}
	return &spec, nil
}

// FullPromptStrategy sends the full table HTML with the extract_and_correct prompt
type FullPromptStrategy struct {
	generator *Generator
	prompts   interfaces.PromptStore
}

// NewFullPromptStrategy creates the high-fidelity strategy
func NewFullPromptStrategy(generator *Generator, promptStore interfaces.PromptStore) *FullPromptStrategy {
	return &FullPromptStrategy{
		generator: generator,
		prompts:   promptStore,
	}
}

func (s *FullPromptStrategy) Name() string { return FullPromptStrategyName }

func (s *FullPromptStrategy) Attempt(ctx context.Context, in Input) (*models.Specification, error) {
	prompt := s.prompts.Load(prompts.ExtractAndCorrect)
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrPromptMissing, prompts.ExtractAndCorrect)
	}
	if strings.TrimSpace(in.TableText) == "" {
		return nil, fmt.Errorf("empty table text")
	}
	return s.generator.generate(ctx, prompt, in.TableText, in.SessionID, FullPromptStrategyName)
}

// PlainTextStrategy sends a truncated markup-free rendering with a self-contained prompt
type PlainTextStrategy struct {
	generator *Generator
}

// NewPlainTextStrategy creates the reduced-fidelity strategy
func NewPlainTextStrategy(generator *Generator) *PlainTextStrategy {
	return &PlainTextStrategy{generator: generator}
}

func (s *PlainTextStrategy) Name() string { return PlainTextStrategyName }

func (s *PlainTextStrategy) Attempt(ctx context.Context, in Input) (*models.Specification, error) {
	text := Truncate(tables.PlainText(in.TableText), PlainTextBudget)
	if text == "" {
		return nil, fmt.Errorf("empty plain text")
	}
	return s.generator.generate(ctx, plainTextPrompt, text, in.SessionID, PlainTextStrategyName)
}

// Truncate keeps at most limit runes
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// DegradedStrategy builds a placeholder specification for manual review. It never fails.
type DegradedStrategy struct{}

// NewDegradedStrategy creates the terminal strategy
func NewDegradedStrategy() *DegradedStrategy {
	return &DegradedStrategy{}
}

func (s *DegradedStrategy) Name() string { return DegradedStrategyName }

func (s *DegradedStrategy) Terminal() bool { return true }

func (s *DegradedStrategy) Attempt(_ context.Context, in Input) (*models.Specification, error) {
	return DegradedSpecification(in.TableText), nil
}

// DegradedSpecification summarizes the plain-text rendering of tableText:
// the element label counts lines and numeric tokens, and the mass is the sum
// of the first numeric tokens
func DegradedSpecification(tableText string) *models.Specification {
	lines := tables.PlainTextLines(tableText)

	var numbers []float64
	for _, line := range lines {
		for _, token := range strings.Fields(line) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", "."), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			numbers = append(numbers, v)
		}
	}

	mass := 0.0
	for i, v := range numbers {
		if i >= degradedMassTokens {
			break
		}
		mass += v
	}

	spec := models.NewSpecification(DegradedUnit)
	spec.Add(DegradedProfile, DegradedGrade, DegradedSize, models.Element{
		Type:      fmt.Sprintf("Автоизвлечение: %d строк, %d чисел", len(lines), len(numbers)),
		Positions: models.Positions{},
		Mass:      models.Float(mass),
	})
	return spec
}
