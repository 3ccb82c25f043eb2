package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FallbackFPS is used when a stream carries no parseable frame rate.
const FallbackFPS = 24.0

// Info holds the probed properties of a media file. Width/Height/FPS are
// zero for audio-only files. It is never persisted; callers re-probe per
// pipeline run.
type Info struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64 // seconds
}

// HasVideo reports whether a video stream was found.
func (i *Info) HasVideo() bool {
	return i.Width > 0 && i.Height > 0
}

// Probe runs a single ffprobe JSON call against path. A failed probe is an
// ordinary error return; callers decide whether an unknown duration is
// fatal for their stage.
func (e *Engine) Probe(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	stdout, _, err := e.runner.Run(ctx, e.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseProbeJSON(stdout)
}

// Duration probes only for duration. Returns 0 on any failure, mirroring
// the "unknown" contract: zero means media absent or corrupt.
func (e *Engine) Duration(ctx context.Context, path string) float64 {
	info, err := e.Probe(ctx, path)
	if err != nil {
		return 0
	}
	return info.Duration
}

// ParseProbeJSON converts raw ffprobe JSON output into an Info. Exported
// for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (*Info, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	info := &Info{Duration: parseFloat(raw.Format.Duration)}
	for i := range raw.Streams {
		s := &raw.Streams[i]
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.FPS = parseFrameRate(s.RFrameRate)
		break
	}
	return info, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

// parseFrameRate parses a rational like "30000/1001". Absent or malformed
// rates fall back to FallbackFPS.
func parseFrameRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) != 2 {
		return FallbackFPS
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den <= 0 {
		return FallbackFPS
	}
	return num / den
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
