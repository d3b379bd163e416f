package pdf

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Runner executes external commands. Tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger arbor.ILogger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Error().
			Str("cmd", name).
			Str("args", strings.Join(args, " ")).
			Dur("duration", time.Since(start)).
			Str("stderr", truncate(errb.String(), 8<<10)).
			Err(err).
			Msg("Command failed")
	} else {
		r.logger.Debug().
			Str("cmd", name).
			Dur("duration", time.Since(start)).
			Int("stdout_bytes", out.Len()).
			Msg("Command finished")
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
