package pipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vidvault/api/internal/media"
)

// Captioner describes the visual content of a video. The description feeds
// the script so a later regeneration can approximate the footage.
type Captioner interface {
	Describe(ctx context.Context, videoPath string) (VisualDescription, error)
}

// VisualDescription is the captioner's output: a one-line style preface,
// timestamped frame captions, and per-frame color gradients.
type VisualDescription struct {
	Preface  string
	Visual   string
	Gradient string
}

func (d VisualDescription) Empty() bool {
	return d.Preface == "" && d.Visual == "" && d.Gradient == ""
}

// CommandCaptioner samples frames at a fixed interval and captions each via
// an external executable that prints the caption on stdout
// (`cmd <framePath> [--prompt text]`).
type CommandCaptioner struct {
	engine      *media.Engine
	runner      media.Runner
	command     string
	intervalSec float64
	maxFrames   int
	stylePrompt string
}

func NewCommandCaptioner(engine *media.Engine, runner media.Runner, command string, intervalSec float64, maxFrames int, stylePrompt string) *CommandCaptioner {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	if maxFrames <= 0 {
		maxFrames = 60
	}
	if runner == nil {
		runner = media.NewRunner()
	}
	return &CommandCaptioner{
		engine:      engine,
		runner:      runner,
		command:     command,
		intervalSec: intervalSec,
		maxFrames:   maxFrames,
		stylePrompt: stylePrompt,
	}
}

func (c *CommandCaptioner) Describe(ctx context.Context, videoPath string) (VisualDescription, error) {
	var desc VisualDescription

	duration := c.engine.Duration(ctx, videoPath)

	tmp, err := os.MkdirTemp("", "captions-")
	if err != nil {
		return desc, err
	}
	defer os.RemoveAll(tmp)

	fps := 1 / c.intervalSec
	_, err = c.engine.FFmpeg(ctx,
		"-y", "-i", videoPath,
		"-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64),
		"-vsync", "0",
		"-frames:v", strconv.Itoa(c.maxFrames),
		filepath.Join(tmp, "frame_%04d.png"),
	)
	if err != nil {
		return desc, fmt.Errorf("sample frames: %w", err)
	}

	frames, _ := filepath.Glob(filepath.Join(tmp, "frame_*.png"))
	if len(frames) == 0 {
		log.Printf("captioner: no frames sampled from %s", filepath.Base(videoPath))
		return desc, nil
	}
	sort.Strings(frames)

	// One conditional caption on the middle frame sets the overall style.
	if c.stylePrompt != "" {
		if caption := c.caption(ctx, frames[len(frames)/2], c.stylePrompt); caption != "" {
			desc.Preface = caption
		}
	}

	var captions, gradients []string
	for i, frame := range frames {
		t := float64(i) * c.intervalSec
		if duration > 0 && t > duration {
			break
		}
		stamp := strconv.FormatFloat(t, 'f', 1, 64) + "s: "
		if caption := c.caption(ctx, frame, ""); caption != "" {
			captions = append(captions, stamp+caption)
		}
		if grad := colorGradient(frame); grad != "" {
			gradients = append(gradients, stamp+grad)
		}
	}
	desc.Visual = strings.Join(captions, "\n")
	desc.Gradient = strings.Join(gradients, "\n")
	return desc, nil
}

func (c *CommandCaptioner) caption(ctx context.Context, framePath, prompt string) string {
	args := []string{framePath}
	if prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	stdout, stderr, err := c.runner.Run(ctx, c.command, args...)
	if err != nil {
		log.Printf("captioner: %s failed on %s: %v: %s",
			c.command, filepath.Base(framePath), err, strings.TrimSpace(string(stderr)))
		return ""
	}
	return strings.TrimSpace(string(stdout))
}

// colorGradient summarizes a frame as average colors of its top, middle and
// bottom thirds, e.g. "top=#1a2b3c mid=#000000 bottom=#ffffff".
func colorGradient(framePath string) string {
	f, err := os.Open(framePath)
	if err != nil {
		return ""
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return ""
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return ""
	}

	third := b.Dy() / 3
	if third < 1 {
		third = 1
	}
	bands := [3][2]int{
		{b.Min.Y, b.Min.Y + third},
		{b.Min.Y + third, b.Min.Y + 2*third},
		{b.Min.Y + 2*third, b.Max.Y},
	}
	labels := [3]string{"top", "mid", "bottom"}

	parts := make([]string, 0, 3)
	for i, band := range bands {
		lo, hi := band[0], band[1]
		if hi <= lo {
			hi = lo + 1
		}
		var r, g, bl, n uint64
		for y := lo; y < hi && y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				pr, pg, pb, _ := img.At(x, y).RGBA()
				r += uint64(pr >> 8)
				g += uint64(pg >> 8)
				bl += uint64(pb >> 8)
				n++
			}
		}
		if n == 0 {
			return ""
		}
		parts = append(parts, fmt.Sprintf("%s=#%02x%02x%02x", labels[i], r/n, g/n, bl/n))
	}
	return strings.Join(parts, " ")
}
