// Package audio derives a size-targeted bitrate and extracts the audio
// track of a video into a small compressed artifact.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/storage"
)

const (
	FormatAAC = "aac"
	FormatMP3 = "mp3"

	minBitrateKbps      = 32
	maxBitrateKbps      = 320
	fallbackBitrateKbps = 128
)

// Extractor encodes the audio track of a video via the external engine.
type Extractor struct {
	engine *media.Engine
}

func NewExtractor(engine *media.Engine) *Extractor {
	return &Extractor{engine: engine}
}

// BitrateKbps computes the target bitrate so the encoded audio stays under
// maxMegabytes, clamped to [32, 320] kbps. Unknown duration falls back to
// 128 kbps.
func BitrateKbps(maxMegabytes, durationSec float64) int {
	if durationSec <= 0 {
		return fallbackBitrateKbps
	}
	kbps := int(maxMegabytes * 1e6 * 8 / durationSec / 1000)
	if kbps < minBitrateKbps {
		return minBitrateKbps
	}
	if kbps > maxBitrateKbps {
		return maxBitrateKbps
	}
	return kbps
}

// OutputName returns the deterministic artifact name for a format.
func OutputName(format string) string {
	if format == FormatMP3 {
		return "audio.mp3"
	}
	return "audio.aac"
}

// Extract encodes the source's audio into outDir at the derived bitrate,
// 44.1 kHz stereo. The encode targets a temp path and is renamed into place
// on success, so a failed run never leaves a valid-looking output.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir, format string, maxMegabytes float64) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return "", fmt.Errorf("source video: %w", err)
	}

	duration := e.engine.Duration(ctx, videoPath)
	bitrate := BitrateKbps(maxMegabytes, duration)

	codec := "aac"
	if format == FormatMP3 {
		codec = "libmp3lame"
	}

	outPath := filepath.Join(outDir, OutputName(format))
	tmpPath := storage.TempPath(outPath)
	defer os.Remove(tmpPath)

	_, err := e.engine.FFmpeg(ctx,
		"-y", "-i", videoPath,
		"-vn", "-acodec", codec,
		"-b:a", fmt.Sprintf("%dk", bitrate),
		"-ar", "44100",
		"-ac", "2",
		tmpPath,
	)
	if err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", fmt.Errorf("finalize audio: %w", err)
	}
	return outPath, nil
}
