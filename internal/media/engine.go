package media

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// External engine invocations are blocking; probes are cheap, encodes are
// not. Both get their own upper bound.
const (
	ProbeTimeout  = 30 * time.Second
	EncodeTimeout = 10 * time.Minute
)

// Engine wraps the external ffmpeg/ffprobe binaries behind bounded,
// context-aware calls.
type Engine struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
}

// NewEngine creates an Engine. Empty paths fall back to the bare binary
// names so PATH resolution applies.
func NewEngine(ffmpegPath, ffprobePath string, runner Runner) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = NewRunner()
	}
	return &Engine{runner: runner, ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

// FFmpeg runs an encode/mux/filter invocation with the encode timeout.
// Returns captured stderr for diagnostics regardless of outcome.
func (e *Engine) FFmpeg(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, EncodeTimeout)
	defer cancel()

	_, stderr, err := e.runner.Run(ctx, e.ffmpeg, args...)
	if err != nil {
		return stderr, fmt.Errorf("ffmpeg %s: %w: %s", firstArgs(args), err, tail(stderr))
	}
	return stderr, nil
}

func firstArgs(args []string) string {
	if len(args) > 4 {
		args = args[:4]
	}
	return strings.Join(args, " ")
}

// tail keeps the last portion of ffmpeg stderr, which is where the actual
// error line lives.
func tail(stderr []byte) string {
	const max = 512
	s := strings.TrimSpace(string(stderr))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
