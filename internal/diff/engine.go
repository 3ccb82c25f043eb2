// Package diff computes and applies the additive residual between an
// original video and its regenerated approximation.
//
// The residual uses ffmpeg blend arithmetic, which saturates at the 8-bit
// channel bounds rather than wrapping. Residuals clipped at 0 during
// compute cannot be recovered by apply, so the codec is lossy by design
// even before Theora quantization.
package diff

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/storage"
)

const statsSampleSeconds = 2.0

// Engine computes and applies residual tracks.
type Engine struct {
	media *media.Engine
}

func NewEngine(m *media.Engine) *Engine {
	return &Engine{media: m}
}

// Compute encodes diff = original − resultant into outDir as an Ogg Theora
// track, aligned to the original's geometry and frame rate over the
// overlapping duration. It is best-effort: any probe or encode failure is
// logged and reported as an empty path, never an error, so the caller's
// pipeline can still reach ready.
func (e *Engine) Compute(ctx context.Context, originalPath, resultantPath, outDir string, quality int) string {
	origInfo, err := e.media.Probe(ctx, originalPath)
	if err != nil || !origInfo.HasVideo() {
		log.Printf("diff: skipping, cannot probe original: %v", err)
		return ""
	}
	resInfo, err := e.media.Probe(ctx, resultantPath)
	if err != nil {
		log.Printf("diff: skipping, cannot probe resultant: %v", err)
		return ""
	}

	w, h, fps := origInfo.Width, origInfo.Height, origInfo.FPS
	duration := min(origInfo.Duration, resInfo.Duration)
	if duration <= 0 || fps <= 0 {
		log.Printf("diff: skipping, no overlapping duration (%.2fs @ %.2ffps)", duration, fps)
		return ""
	}

	if quality < 0 {
		quality = 0
	}
	if quality > 10 {
		quality = 10
	}

	outPath := filepath.Join(outDir, storage.DiffName)
	tmpPath := storage.TempPath(outPath)
	defer os.Remove(tmpPath)

	// [0]=original, [1]=resultant: trim both to the overlap, reset
	// timestamps, resample to the original's rate, letterbox the resultant
	// into the original's geometry, then subtract per frame.
	align := "trim=duration=" + ftoa(duration) +
		",setpts=PTS-STARTPTS,fps=" + ftoa(fps) +
		",scale=" + itoa(w) + ":" + itoa(h) + ":force_original_aspect_ratio=decrease" +
		",pad=" + itoa(w) + ":" + itoa(h) + ":(ow-iw)/2:(oh-ih)/2"
	filterComplex := strings.Join([]string{
		"[0:v]" + align + "[orig]",
		"[1:v]" + align + "[res]",
		"[orig][res]blend=all_mode=subtract[out]",
	}, ";")

	log.Printf("diff: computing original-resultant residual, %.1fs %dx%d @ %.2ffps", duration, w, h, fps)
	_, err = e.media.FFmpeg(ctx,
		"-y",
		"-i", originalPath,
		"-i", resultantPath,
		"-filter_complex", filterComplex,
		"-map", "[out]",
		"-c:v", "libtheora",
		"-q:v", itoa(quality),
		tmpPath,
	)
	if err != nil {
		log.Printf("diff: compute failed: %v", err)
		return ""
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		log.Printf("diff: finalize failed: %v", err)
		return ""
	}

	e.logStats(ctx, outPath)
	return outPath
}

var yavgRe = regexp.MustCompile(`YAVG:\s*([\d.]+)`)

// logStats samples per-frame mean luma over the first seconds of the diff
// and logs it as a percentage of maximum. Purely observational: higher
// means the regenerated video strayed further from the original.
func (e *Engine) logStats(ctx context.Context, diffPath string) {
	stderr, err := e.media.FFmpeg(ctx,
		"-y",
		"-i", diffPath,
		"-vf", "signalstats",
		"-t", ftoa(statsSampleSeconds),
		"-f", "null", "-",
	)
	if err != nil {
		log.Printf("diff: stats skipped: %v", err)
		return
	}

	matches := yavgRe.FindAllStringSubmatch(string(stderr), -1)
	if len(matches) == 0 {
		log.Printf("diff: written (signalstats unavailable)")
		return
	}
	var sum float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		sum += v
	}
	mean := sum / float64(len(matches))
	log.Printf("diff: mean luma %.1f (%.0f%% of max) over %d frames", mean, mean/255*100, len(matches))
}

// Apply produces outPath = resultant + diff muxed with audio, with the
// video dimension adjusted (trimmed or looped) so the output runs exactly
// targetDuration seconds. The sum saturates like the subtraction in
// Compute, so the round trip only approximates the original.
func (e *Engine) Apply(ctx context.Context, resultantPath, diffPath, audioPath, outPath string, targetDuration float64) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	videoDur := e.media.Duration(ctx, resultantPath)
	trim := "trim=duration=" + ftoa(targetDuration) + ",setpts=PTS-STARTPTS"
	filterComplex := "[0:v]" + trim + "[res];[1:v]" + trim + "[diff];[res][diff]blend=all_mode=addition[vid]"

	args := []string{"-y"}
	if videoDur > 0 && videoDur < targetDuration {
		// Loop both streams the same number of times, then trim the summed
		// stream back to the target.
		loops := itoa(int(targetDuration/videoDur) + 1)
		args = append(args,
			"-stream_loop", loops, "-i", resultantPath,
			"-stream_loop", loops, "-i", diffPath,
		)
	} else {
		args = append(args, "-i", resultantPath, "-i", diffPath)
	}
	args = append(args,
		"-i", audioPath,
		"-filter_complex", filterComplex,
		"-map", "[vid]", "-map", "2:a",
		"-t", ftoa(targetDuration),
		"-c:v", "libx264", "-c:a", "aac",
		outPath,
	)

	if _, err := e.media.FFmpeg(ctx, args...); err != nil {
		return fmt.Errorf("apply diff: %w", err)
	}
	return nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
