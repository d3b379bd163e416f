package structuring

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/services/llm"
	"github.com/AyanbekDos/smeta-2/internal/services/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type scriptedProvider struct {
	replies []string
	err     error
	calls   atomic.Int32
	last    *interfaces.GenerateRequest
}

func (p *scriptedProvider) Generate(_ context.Context, req *interfaces.GenerateRequest) (interfaces.ModelResponse, error) {
	n := int(p.calls.Add(1))
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return llm.TextResponse(p.replies[min(n, len(p.replies))-1]), nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Close() error { return nil }

type staticPrompts map[string]string

func (p staticPrompts) Load(name string) string { return p[name] }

func newGenerator(t *testing.T, provider interfaces.ModelProvider) *Generator {
	t.Helper()
	validator, err := NewSchemaValidator()
	require.NoError(t, err)

	logger := arbor.NewLogger()
	invoker := llm.NewInvoker(llm.RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond}, nil, logger).
		WithSleeper(func(context.Context, time.Duration) error { return nil })

	return &Generator{
		Provider:  provider,
		Invoker:   invoker,
		Parser:    llm.NewResponseParser(nil, logger),
		Validator: validator,
		Model:     "test-model",
	}
}

const validSpecJSON = `{"единица_измерения": "т", "профили": {"Двутавры стальные горячекатанные": {"марки_стали": {"С255": {"размеры": {"20Ш1": {"элементы": [{"тип": "Балки", "позиции": ["Б1", 2], "масса": 1.25}]}}}}}}}`

func TestDegradedSpecification_NumericExtraction(t *testing.T) {
	spec := DegradedSpecification("12,5 7.0 abc")

	require.Len(t, spec.Profiles, 1)
	assert.Equal(t, DegradedUnit, spec.Unit)
	assert.Equal(t, DegradedProfile, spec.Profiles[0].Name)
	assert.Equal(t, DegradedGrade, spec.Profiles[0].Grades[0].Name)
	assert.Equal(t, DegradedSize, spec.Profiles[0].Grades[0].Sizes[0].Name)

	element := spec.Profiles[0].Grades[0].Sizes[0].Elements[0]
	require.NotNil(t, element.Mass)
	assert.InDelta(t, 19.5, *element.Mass, 1e-9)
	assert.Equal(t, "Автоизвлечение: 1 строк, 2 чисел", element.Type)
	assert.Empty(t, element.Positions)
}

func TestDegradedSpecification_FirstTenTokensOnly(t *testing.T) {
	spec := DegradedSpecification("1 1 1 1 1 1 1 1 1 1 100 NaN Inf")
	assert.InDelta(t, 10.0, spec.TotalMass(), 1e-9)
}

func TestDegradedSpecification_FromTableHTML(t *testing.T) {
	html := "<table border=\"1\">\n<tr>\n<td>Балка</td>\n<td>2,5</td>\n</tr>\n<tr>\n<td>Итого</td>\n<td>2,5</td>\n</tr>\n</table>"
	spec := DegradedSpecification(html)

	element := spec.Profiles[0].Grades[0].Sizes[0].Elements[0]
	assert.Equal(t, "Автоизвлечение: 2 строк, 2 чисел", element.Type)
	assert.InDelta(t, 5.0, *element.Mass, 1e-9)
}

func TestDegradedSpecification_Empty(t *testing.T) {
	spec := DegradedSpecification("")
	assert.InDelta(t, 0.0, spec.TotalMass(), 1e-9)
	assert.Equal(t, 1, spec.ElementCount())
}

func TestFullPromptStrategy_Success(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"```json\n" + validSpecJSON + "\n```"}}
	strategy := NewFullPromptStrategy(newGenerator(t, provider), staticPrompts{prompts.ExtractAndCorrect: "extract"})

	spec, err := strategy.Attempt(context.Background(), Input{TableText: "<table></table>", SessionID: "ses"})

	require.NoError(t, err)
	assert.Equal(t, "т", spec.Unit)
	assert.InDelta(t, 1.25, spec.TotalMass(), 1e-9)
	assert.Equal(t, "extract", provider.last.Prompt)
	assert.Equal(t, "<table></table>", provider.last.Text)
	assert.True(t, provider.last.JSON)
}

func TestFullPromptStrategy_MissingPrompt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{validSpecJSON}}
	strategy := NewFullPromptStrategy(newGenerator(t, provider), staticPrompts{})

	_, err := strategy.Attempt(context.Background(), Input{TableText: "<table></table>"})

	assert.ErrorIs(t, err, interfaces.ErrPromptMissing)
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestFullPromptStrategy_SchemaViolation(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"единица_измерения": "т", "профили": {"X": {"марки_стали": {"С255": {"размеры": {"1": {"элементы": [{"масса": 1}]}}}}}}}`}}
	strategy := NewFullPromptStrategy(newGenerator(t, provider), staticPrompts{prompts.ExtractAndCorrect: "extract"})

	_, err := strategy.Attempt(context.Background(), Input{TableText: "<table></table>"})

	assert.ErrorIs(t, err, interfaces.ErrMalformedModelOutput)
}

func TestPlainTextStrategy_TruncatesInput(t *testing.T) {
	provider := &scriptedProvider{replies: []string{validSpecJSON}}
	strategy := NewPlainTextStrategy(newGenerator(t, provider))

	long := "<table><tr><td>" + strings.Repeat("я", PlainTextBudget+500) + "</td></tr></table>"
	_, err := strategy.Attempt(context.Background(), Input{TableText: long})

	require.NoError(t, err)
	assert.Equal(t, PlainTextBudget, len([]rune(provider.last.Text)))
	assert.Contains(t, provider.last.Prompt, "единица_измерения")
}

func TestLadder_FallsBackToPlainText(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"not json at all", validSpecJSON}}
	generator := newGenerator(t, provider)
	notifier := &recordingNotifier{}

	ladder := NewLadder(arbor.NewLogger(),
		NewFullPromptStrategy(generator, staticPrompts{prompts.ExtractAndCorrect: "extract"}),
		NewPlainTextStrategy(generator),
	)
	outcome := ladder.Structure(context.Background(), Input{TableText: "<table><tr><td>Балка 1,25</td></tr></table>"}, notifier)

	assert.Equal(t, PlainTextStrategyName, outcome.Strategy)
	assert.False(t, outcome.Degraded)
	assert.Equal(t, []string{progressMessages[PlainTextStrategyName]}, notifier.messages)
}

func TestLadder_ModelUnavailableEndsDegraded(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("503 unavailable")}
	generator := newGenerator(t, provider)

	ladder := NewLadder(arbor.NewLogger(),
		NewFullPromptStrategy(generator, staticPrompts{prompts.ExtractAndCorrect: "extract"}),
		NewPlainTextStrategy(generator),
	)
	outcome := ladder.Structure(context.Background(), Input{TableText: "<table><tr><td>12,5</td><td>7.0</td></tr></table>"}, nil)

	assert.True(t, outcome.Degraded)
	assert.InDelta(t, 19.5, outcome.Spec.TotalMass(), 1e-9)
	assert.Equal(t, int32(4), provider.calls.Load())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "абв", Truncate("абвгд", 3))
	assert.Equal(t, "аб", Truncate("аб", 3))
}
