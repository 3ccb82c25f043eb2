// Package reconstitute merges stored artifacts back into one playable
// video whose duration always equals the audio duration.
package reconstitute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/storage"
)

// ErrMissingArtifacts marks a stored directory that lacks the audio or
// resultant video needed for playback.
var ErrMissingArtifacts = errors.New("missing artifacts")

// Artifacts are the resolved inputs for a merge. Diff may be empty.
type Artifacts struct {
	Audio     string
	Resultant string
	Diff      string
}

// Merger produces playable output from a stored item directory.
type Merger struct {
	media  *media.Engine
	differ *diff.Engine
}

func NewMerger(m *media.Engine, d *diff.Engine) *Merger {
	return &Merger{media: m, differ: d}
}

// Resolve locates the audio, resultant and diff artifacts in dir. Paths
// declared by the manifest win when they exist on disk; otherwise the
// conventional filenames are tried, which keeps hand-edited or
// foreign-tool-produced directories usable.
func Resolve(dir string) (Artifacts, error) {
	var a Artifacts

	if data, err := os.ReadFile(filepath.Join(dir, storage.ManifestName)); err == nil {
		var m storage.Manifest
		if json.Unmarshal(data, &m) == nil {
			if fileExists(m.Audio) {
				a.Audio = m.Audio
			}
			if fileExists(m.ResultantVideo) {
				a.Resultant = m.ResultantVideo
			}
			if m.DiffVideo != nil && fileExists(*m.DiffVideo) {
				a.Diff = *m.DiffVideo
			}
		}
	}

	if a.Audio == "" {
		for _, name := range []string{"audio.aac", "audio.mp3"} {
			if p := filepath.Join(dir, name); fileExists(p) {
				a.Audio = p
				break
			}
		}
	}
	if a.Resultant == "" {
		if p := filepath.Join(dir, storage.ResultantName); fileExists(p) {
			a.Resultant = p
		}
	}
	if a.Diff == "" {
		if p := filepath.Join(dir, storage.DiffName); fileExists(p) {
			a.Diff = p
		}
	}

	if a.Audio == "" || a.Resultant == "" {
		return a, fmt.Errorf("%w: expected audio.aac/audio.mp3 and %s in %s",
			ErrMissingArtifacts, storage.ResultantName, dir)
	}
	return a, nil
}

// OutputName returns the conventional reconstituted filename.
func OutputName(useDiff bool) string {
	if useDiff {
		return storage.ReconstitutedDiffName
	}
	return storage.ReconstitutedName
}

// MergeDir reconstitutes the item in dir into dir/<OutputName>. With
// useDiff the residual track is added back; a requested-but-absent diff
// degrades to a plain merge with a warning rather than failing.
func (m *Merger) MergeDir(ctx context.Context, dir string, useDiff bool) (string, error) {
	arts, err := Resolve(dir)
	if err != nil {
		return "", err
	}

	audioDur := m.media.Duration(ctx, arts.Audio)
	if audioDur <= 0 {
		return "", fmt.Errorf("cannot determine playback length for %s", arts.Audio)
	}

	outPath := filepath.Join(dir, OutputName(useDiff))
	tmpPath := storage.TempPath(outPath)
	defer os.Remove(tmpPath)

	if useDiff {
		if arts.Diff == "" {
			log.Printf("reconstitute: diff requested but absent in %s, merging without it", dir)
		} else {
			if err := m.differ.Apply(ctx, arts.Resultant, arts.Diff, arts.Audio, tmpPath, audioDur); err != nil {
				return "", err
			}
			if err := os.Rename(tmpPath, outPath); err != nil {
				return "", err
			}
			return outPath, nil
		}
	}

	if err := m.merge(ctx, arts.Resultant, arts.Audio, tmpPath, audioDur); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// merge muxes video with audio at exactly targetDuration seconds. A video
// at least as long as the audio is trimmed on a codec-copy fast path; a
// shorter one is looped then trimmed, which forces a re-encode since
// stream copy is not valid across a loop boundary.
func (m *Merger) merge(ctx context.Context, videoPath, audioPath, outPath string, targetDuration float64) error {
	videoDur := m.media.Duration(ctx, videoPath)

	var args []string
	if videoDur <= 0 || videoDur >= targetDuration {
		args = []string{
			"-y",
			"-i", videoPath,
			"-i", audioPath,
			"-t", ftoa(targetDuration),
			"-c:v", "copy", "-c:a", "aac",
			outPath,
		}
	} else {
		loops := int(targetDuration/videoDur) + 1
		args = []string{
			"-y",
			"-stream_loop", fmt.Sprint(loops),
			"-i", videoPath,
			"-i", audioPath,
			"-t", ftoa(targetDuration),
			"-c:v", "libx264", "-c:a", "aac",
			outPath,
		}
	}

	if _, err := m.media.FFmpeg(ctx, args...); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// ftoa renders a duration in plain decimal notation; ffmpeg does not accept
// exponent forms for -t.
func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
