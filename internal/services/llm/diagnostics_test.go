package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestDirDiagnosticSink_Dump(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "diag")
	sink := NewDirDiagnosticSink(dir, arbor.NewLogger())
	sink.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }

	sink.Dump(context.Background(), "ses_abc", "find/page", "not json")

	data, err := os.ReadFile(filepath.Join(dir, "20250501T120000.000_ses_abc_find_page.txt"))
	require.NoError(t, err)
	assert.Equal(t, "not json", string(data))
}

func TestDirDiagnosticSink_Disabled(t *testing.T) {
	sink := NewDirDiagnosticSink("", arbor.NewLogger())
	assert.NotPanics(t, func() {
		sink.Dump(context.Background(), "s", "t", "raw")
	})
}
