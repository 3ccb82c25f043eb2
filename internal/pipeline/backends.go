package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vidvault/api/internal/media"
)

// Transcriber turns an audio track into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// StubTranscriber is the zero-dependency fallback: a fixed placeholder
// naming the input file, so the pipeline completes without a speech model.
type StubTranscriber struct{}

func (StubTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	return fmt.Sprintf(
		"[Script placeholder for: %s. Configure a speech-to-text backend for a real transcript.]",
		filepath.Base(audioPath),
	), nil
}

// WhisperTranscriber shells out to the whisper CLI, which writes a .txt
// transcript into an output directory.
type WhisperTranscriber struct {
	runner media.Runner
	binary string
	model  string
}

func NewWhisperTranscriber(runner media.Runner, binary, model string) *WhisperTranscriber {
	if binary == "" {
		binary = "whisper"
	}
	if model == "" {
		model = "base"
	}
	if runner == nil {
		runner = media.NewRunner()
	}
	return &WhisperTranscriber{runner: runner, binary: binary, model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outDir, err := os.MkdirTemp("", "transcribe-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	ctx, cancel := context.WithTimeout(ctx, media.EncodeTimeout)
	defer cancel()

	_, stderr, err := w.runner.Run(ctx, w.binary,
		audioPath,
		"--model", w.model,
		"--output_format", "txt",
		"--output_dir", outDir,
	)
	if err != nil {
		return "", fmt.Errorf("whisper: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	// The transcript lands as <input stem>.txt; take whatever .txt appeared.
	matches, _ := filepath.Glob(filepath.Join(outDir, "*.txt"))
	if len(matches) == 0 {
		return "", fmt.Errorf("whisper: no transcript produced for %s", filepath.Base(audioPath))
	}
	sort.Strings(matches)
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		text = "(no speech detected)"
	}
	return text, nil
}

// NewTranscriber selects a transcription backend. Anything other than a
// resolvable whisper install degrades to the stub.
func NewTranscriber(backend, binary, model string, runner media.Runner) Transcriber {
	if backend == "whisper" {
		if binary == "" {
			binary = "whisper"
		}
		if media.Available(binary) {
			return NewWhisperTranscriber(runner, binary, model)
		}
		log.Printf("pipeline: %s not found on PATH, using placeholder transcripts", binary)
	}
	return StubTranscriber{}
}

// VideoGenerator renders a resultant video from script text.
type VideoGenerator interface {
	Generate(ctx context.Context, script, outPath string) error
}

// StubGenerator produces a fixed-duration black clip with silent audio so
// the pipeline runs without a text-to-video model.
type StubGenerator struct {
	media    *media.Engine
	duration float64
}

func NewStubGenerator(engine *media.Engine, durationSec float64) *StubGenerator {
	if durationSec <= 0 {
		durationSec = 5
	}
	return &StubGenerator{media: engine, duration: durationSec}
}

func (g *StubGenerator) Generate(ctx context.Context, _ string, outPath string) error {
	d := strconv.FormatFloat(g.duration, 'f', -1, 64)
	_, err := g.media.FFmpeg(ctx,
		"-y",
		"-f", "lavfi", "-i", "color=c=black:s=1280x720:d="+d,
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo",
		"-t", d,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		outPath,
	)
	if err != nil {
		return fmt.Errorf("placeholder clip: %w", err)
	}
	return nil
}

// CommandGenerator drives an external text-to-video executable with the
// contract `cmd <scriptFile> <outPath> [--model id]`. Any failure degrades
// to the stub rather than failing the stage.
type CommandGenerator struct {
	runner   media.Runner
	command  string
	model    string
	fallback *StubGenerator
}

func NewCommandGenerator(runner media.Runner, command, model string, fallback *StubGenerator) *CommandGenerator {
	if runner == nil {
		runner = media.NewRunner()
	}
	return &CommandGenerator{runner: runner, command: command, model: model, fallback: fallback}
}

func (g *CommandGenerator) Generate(ctx context.Context, script, outPath string) error {
	scriptFile, err := os.CreateTemp("", "t2v-script-*.txt")
	if err != nil {
		return g.degrade(ctx, script, outPath, err)
	}
	defer os.Remove(scriptFile.Name())
	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return g.degrade(ctx, script, outPath, err)
	}
	scriptFile.Close()

	ctx, cancel := context.WithTimeout(ctx, media.EncodeTimeout)
	defer cancel()

	args := []string{scriptFile.Name(), outPath}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}
	if _, stderr, err := g.runner.Run(ctx, g.command, args...); err != nil {
		return g.degrade(ctx, script, outPath,
			fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr))))
	}
	if _, err := os.Stat(outPath); err != nil {
		return g.degrade(ctx, script, outPath, fmt.Errorf("no output produced"))
	}
	return nil
}

func (g *CommandGenerator) degrade(ctx context.Context, script, outPath string, cause error) error {
	log.Printf("pipeline: %s failed (%v), using placeholder clip", g.command, cause)
	return g.fallback.Generate(ctx, script, outPath)
}

// NewVideoGenerator selects a generation backend. A configured external
// command is used when it resolves; everything else is the stub.
func NewVideoGenerator(backend, command, model string, runner media.Runner, engine *media.Engine, stubDurationSec float64) VideoGenerator {
	stub := NewStubGenerator(engine, stubDurationSec)
	if backend != "" && backend != "stub" && command != "" {
		if media.Available(command) {
			return NewCommandGenerator(runner, command, model, stub)
		}
		log.Printf("pipeline: %s not found on PATH, using placeholder clips", command)
	}
	return stub
}
