package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"extension removed", "drawing.pdf", "drawing"},
		{"cyrillic kept", "КМ лист 3.pdf", "КМ_лист_3"},
		{"runs collapsed", "a  &&  b.pdf", "a_b"},
		{"edges trimmed", "__(draft)__.pdf", "draft"},
		{"dash and underscore kept", "spec-01_final.PDF", "spec-01_final"},
		{"empty", "", "document"},
		{"only symbols", "###.pdf", "document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanFilename(tt.input))
		})
	}
}

func TestCleanFilename_Capped(t *testing.T) {
	cleaned := CleanFilename(strings.Repeat("я", 150) + ".pdf")
	assert.Equal(t, 100, len([]rune(cleaned)))
}

func TestRunPath(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("MSK", 3*3600))

	assert.Equal(t, "runs/5/plan/20250102_000405Z", RunPath("runs/", 5, "plan.pdf", at))
	assert.Equal(t, "5/plan/20250102_000405Z", RunPath("", 5, "plan.pdf", at))
	assert.Equal(t, "analytics/date=2025-01-02/feedback.csv", AnalyticsKey(at))
}
