// Package pipeline sequences the store stages: audio extraction, script
// generation, video regeneration and diff computation. Stage completion is
// judged by output files on disk, so an interrupted run resumes by simply
// running again.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/vidvault/api/internal/audio"
	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/storage"
)

// Pipeline phases in execution order.
const (
	PhaseExtractingAudio = "extracting_audio"
	PhaseTranscribing    = "transcribing"
	PhaseGeneratingVideo = "generating_video"
	PhaseComputingDiff   = "computing_diff"
	PhaseReady           = "ready"
)

// Script section headers.
const (
	sectionPreface    = "[Preface]"
	sectionTranscript = "[Transcript]"
	sectionVisual     = "[Visual description]"
	sectionGradient   = "[Color gradient]"
)

// ProgressFunc observes pipeline progress. phase is one of the Phase
// constants, progress is in [0,1].
type ProgressFunc func(phase string, progress float64, message string)

// Options tune the stages.
type Options struct {
	AudioFormat string
	AudioMaxMB  float64
	DiffEnabled bool
	DiffQuality int
}

// Orchestrator runs the store pipeline over one item directory.
type Orchestrator struct {
	extractor   *audio.Extractor
	differ      *diff.Engine
	transcriber Transcriber
	captioner   Captioner // nil when no visual backend is configured
	generator   VideoGenerator
	opts        Options
}

func New(engine *media.Engine, t Transcriber, c Captioner, g VideoGenerator, opts Options) *Orchestrator {
	if opts.AudioFormat == "" {
		opts.AudioFormat = audio.FormatAAC
	}
	if opts.AudioMaxMB <= 0 {
		opts.AudioMaxMB = 5
	}
	return &Orchestrator{
		extractor:   audio.NewExtractor(engine),
		differ:      diff.NewEngine(engine),
		transcriber: t,
		captioner:   c,
		generator:   g,
		opts:        opts,
	}
}

// Run stores inputPath into dir, skipping stages whose outputs already
// exist. forceScript deletes script.txt and resultant.mp4 up front so both
// regenerate; audio is never forced. The manifest is written last,
// atomically, and only a written manifest marks the item ready.
func (o *Orchestrator) Run(ctx context.Context, inputPath, dir string, forceScript bool, progress ProgressFunc) (*storage.Manifest, error) {
	report := safeProgress(progress)

	if forceScript {
		for _, name := range []string{storage.ScriptName, storage.ResultantName} {
			p := filepath.Join(dir, name)
			if err := os.Remove(p); err == nil {
				log.Printf("pipeline: force removed %s", p)
			}
		}
	}

	report(PhaseExtractingAudio, 0.05, "Extracting audio")
	audioPath, err := o.ensureAudio(ctx, inputPath, dir, report)
	if err != nil {
		return nil, err
	}

	report(PhaseTranscribing, 0.3, "Generating script")
	scriptPath := filepath.Join(dir, storage.ScriptName)
	if fileExists(scriptPath) {
		report(PhaseTranscribing, 0.5, "Script cached, skipping")
	} else {
		if err := o.writeScript(ctx, inputPath, audioPath, scriptPath); err != nil {
			return nil, err
		}
		report(PhaseTranscribing, 0.5, "Script written")
	}

	report(PhaseGeneratingVideo, 0.55, "Generating resultant video")
	resultantPath := filepath.Join(dir, storage.ResultantName)
	if fileExists(resultantPath) {
		report(PhaseGeneratingVideo, 0.8, "Resultant video cached, skipping")
	} else {
		if err := o.generateVideo(ctx, scriptPath, resultantPath); err != nil {
			return nil, err
		}
		report(PhaseGeneratingVideo, 0.8, "Resultant video written")
	}

	// Diff always recomputes against the current resultant; its failure
	// never blocks ready.
	var diffPath *string
	if o.opts.DiffEnabled {
		report(PhaseComputingDiff, 0.85, "Computing diff")
		if p := o.differ.Compute(ctx, inputPath, resultantPath, dir, o.opts.DiffQuality); p != "" {
			diffPath = &p
		}
	}

	m := &storage.Manifest{
		OriginalVideo:  inputPath,
		Audio:          audioPath,
		Script:         scriptPath,
		ResultantVideo: resultantPath,
		DiffVideo:      diffPath,
	}
	if err := storage.WriteManifestDir(dir, m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	report(PhaseReady, 1, "Stored")
	return m, nil
}

// ensureAudio reuses an existing audio artifact of either format before
// extracting, so a format change never invalidates a finished stage.
func (o *Orchestrator) ensureAudio(ctx context.Context, inputPath, dir string, report ProgressFunc) (string, error) {
	for _, format := range []string{audio.FormatAAC, audio.FormatMP3} {
		p := filepath.Join(dir, audio.OutputName(format))
		if fileExists(p) {
			report(PhaseExtractingAudio, 0.25, "Audio cached, skipping")
			return p, nil
		}
	}
	p, err := o.extractor.Extract(ctx, inputPath, dir, o.opts.AudioFormat, o.opts.AudioMaxMB)
	if err != nil {
		return "", err
	}
	report(PhaseExtractingAudio, 0.25, "Audio extracted")
	return p, nil
}

// writeScript assembles the script sections and writes them atomically. A
// failed transcription becomes a bracketed notice in the transcript rather
// than failing the stage; a failed captioner drops the visual sections.
func (o *Orchestrator) writeScript(ctx context.Context, inputPath, audioPath, scriptPath string) error {
	transcript, err := o.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		log.Printf("pipeline: transcription failed: %v", err)
		transcript = fmt.Sprintf("[Transcription failed for %s: %v]", filepath.Base(audioPath), err)
	}

	parts := []string{sectionTranscript + "\n" + transcript}
	if o.captioner != nil {
		desc, err := o.captioner.Describe(ctx, inputPath)
		if err != nil {
			log.Printf("pipeline: visual description failed: %v", err)
		} else {
			if desc.Preface != "" {
				parts = append([]string{sectionPreface + "\n" + desc.Preface}, parts...)
			}
			if desc.Visual != "" {
				parts = append(parts, sectionVisual+"\n"+desc.Visual)
			}
			if desc.Gradient != "" {
				parts = append(parts, sectionGradient+"\n"+desc.Gradient)
			}
		}
	}

	content := strings.Join(parts, "\n\n") + "\n"
	if err := storage.WriteFileAtomic(scriptPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

func (o *Orchestrator) generateVideo(ctx context.Context, scriptPath, resultantPath string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	tmpPath := storage.TempPath(resultantPath)
	defer os.Remove(tmpPath)

	if err := o.generator.Generate(ctx, string(script), tmpPath); err != nil {
		return fmt.Errorf("generate video: %w", err)
	}
	if err := os.Rename(tmpPath, resultantPath); err != nil {
		return fmt.Errorf("finalize video: %w", err)
	}
	return nil
}

// safeProgress makes the injected callback safe to call: nil is a no-op and
// a panicking callback never aborts the pipeline.
func safeProgress(fn ProgressFunc) ProgressFunc {
	return func(phase string, progress float64, message string) {
		if fn == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Printf("pipeline: progress callback panicked: %v", r)
			}
		}()
		fn(phase, progress, message)
	}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
