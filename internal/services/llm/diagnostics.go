package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
)

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// DirDiagnosticSink writes unparseable model output to files in a directory
type DirDiagnosticSink struct {
	dir    string
	now    func() time.Time
	logger arbor.ILogger
}

// NewDirDiagnosticSink creates a sink. An empty dir disables dumping.
func NewDirDiagnosticSink(dir string, logger arbor.ILogger) *DirDiagnosticSink {
	return &DirDiagnosticSink{
		dir:    dir,
		now:    time.Now,
		logger: logger,
	}
}

// Dump writes raw to {dir}/{timestamp}_{session}_{tag}.txt. Failures are logged.
func (d *DirDiagnosticSink) Dump(_ context.Context, sessionID, tag, raw string) {
	if d.dir == "" {
		return
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		d.logger.Warn().Err(err).Str("dir", d.dir).Msg("Failed to create diagnostics directory")
		return
	}

	name := fmt.Sprintf("%s_%s_%s.txt",
		d.now().UTC().Format("20060102T150405.000"),
		unsafeTagChars.ReplaceAllString(sessionID, "_"),
		unsafeTagChars.ReplaceAllString(tag, "_"),
	)
	path := filepath.Join(d.dir, name)

	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		d.logger.Warn().Err(err).Str("path", path).Msg("Failed to write model output dump")
		return
	}

	d.logger.Info().Str("path", path).Str("tag", tag).Msg("Unparseable model output saved")
}
