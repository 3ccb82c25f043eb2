package reconstitute

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/media/mediatest"
	"github.com/vidvault/api/internal/storage"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newMerger(runner media.Runner) *Merger {
	eng := media.NewEngine("", "", runner)
	return NewMerger(eng, diff.NewEngine(eng))
}

func TestResolvePrefersManifest(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()

	// Manifest points at artifacts outside the conventional names.
	audio := filepath.Join(other, "audio.mp3")
	resultant := filepath.Join(other, "resultant.mp4")
	writeFile(t, audio)
	writeFile(t, resultant)

	m := &storage.Manifest{Audio: audio, ResultantVideo: resultant}
	s, err := storage.NewStore(filepath.Dir(dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteManifest(filepath.Base(dir), m); err != nil {
		t.Fatal(err)
	}

	arts, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if arts.Audio != audio || arts.Resultant != resultant {
		t.Errorf("Resolve = %+v, want manifest paths", arts)
	}
}

func TestResolveFallsBackToConventionalNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "audio.aac"))
	writeFile(t, filepath.Join(dir, "resultant.mp4"))
	writeFile(t, filepath.Join(dir, "diff.ogv"))

	arts, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(arts.Audio) != "audio.aac" ||
		filepath.Base(arts.Resultant) != "resultant.mp4" ||
		filepath.Base(arts.Diff) != "diff.ogv" {
		t.Errorf("Resolve = %+v", arts)
	}
}

func TestMergeDirMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "audio.aac")) // no resultant

	runner := &mediatest.FakeRunner{}
	_, err := newMerger(runner).MergeDir(context.Background(), dir, false)
	if !errors.Is(err, ErrMissingArtifacts) {
		t.Fatalf("err = %v, want ErrMissingArtifacts", err)
	}
	// No output, partial or otherwise.
	for _, name := range []string{"reconstituted.mp4", "reconstituted.tmp.mp4"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s created despite missing artifacts", name)
		}
	}
	if len(runner.Calls()) != 0 {
		t.Error("engine invoked despite missing artifacts")
	}
}

func TestMergeDirCopyPathWhenVideoLongEnough(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "audio.aac"))
	writeFile(t, filepath.Join(dir, "resultant.mp4"))

	// Probes report the same duration for audio and video.
	runner := &mediatest.FakeRunner{Probe: mediatest.ProbeSpec{Width: 1280, Height: 720, FPS: "30/1", Duration: 20}}
	out, err := newMerger(runner).MergeDir(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("MergeDir: %v", err)
	}
	if filepath.Base(out) != "reconstituted.mp4" {
		t.Errorf("output = %s", out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}

	var encode []string
	for _, c := range runner.Calls() {
		if hasArgPair(c.Args, "-c:a", "aac") {
			encode = c.Args
		}
	}
	if encode == nil {
		t.Fatal("no merge invocation recorded")
	}
	if !hasArgPair(encode, "-c:v", "copy") {
		t.Errorf("long-enough video should stream-copy: %v", encode)
	}
	if !hasArgPair(encode, "-t", "20") {
		t.Errorf("output not trimmed to audio duration: %v", encode)
	}
}

func TestMergeDirLoopsShortVideo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "audio.aac"))
	writeFile(t, filepath.Join(dir, "resultant.mp4"))

	// Audio probes at 20s, video at 6s → loop floor(20/6)+1 = 4 times.
	runner := &mediatest.FakeRunner{
		OnRun: func(name string, args []string) ([]byte, []byte, error, bool) {
			if strings.HasSuffix(name, "ffprobe") {
				dur := 20.0
				if strings.Contains(args[len(args)-1], "resultant") {
					dur = 6.0
				}
				spec := mediatest.ProbeSpec{Width: 1280, Height: 720, FPS: "30/1", Duration: dur}
				return []byte(mediatest.ProbeJSON(spec)), nil, nil, true
			}
			return nil, nil, nil, false
		},
	}
	if _, err := newMerger(runner).MergeDir(context.Background(), dir, false); err != nil {
		t.Fatalf("MergeDir: %v", err)
	}

	var encode []string
	for _, c := range runner.Calls() {
		if hasArgPair(c.Args, "-c:a", "aac") {
			encode = c.Args
		}
	}
	if encode == nil {
		t.Fatal("no merge invocation recorded")
	}
	if !hasArgPair(encode, "-stream_loop", "4") {
		t.Errorf("short video should loop 4 times: %v", encode)
	}
	if !hasArgPair(encode, "-c:v", "libx264") {
		t.Errorf("looped merge must re-encode: %v", encode)
	}
	if !hasArgPair(encode, "-t", "20") {
		t.Errorf("looped merge must trim to audio duration: %v", encode)
	}
}

func TestMergeDirUseDiffDegradesWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "audio.aac"))
	writeFile(t, filepath.Join(dir, "resultant.mp4"))

	runner := &mediatest.FakeRunner{Probe: mediatest.ProbeSpec{Width: 1280, Height: 720, FPS: "30/1", Duration: 10}}
	out, err := newMerger(runner).MergeDir(context.Background(), dir, true)
	if err != nil {
		t.Fatalf("MergeDir with absent diff should degrade, got %v", err)
	}
	if filepath.Base(out) != "reconstituted_original.mp4" {
		t.Errorf("output = %s, want reconstituted_original.mp4", filepath.Base(out))
	}
}

func TestMergeDirUseDiffAppliesResidual(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "audio.aac"))
	writeFile(t, filepath.Join(dir, "resultant.mp4"))
	writeFile(t, filepath.Join(dir, "diff.ogv"))

	runner := &mediatest.FakeRunner{Probe: mediatest.ProbeSpec{Width: 1280, Height: 720, FPS: "30/1", Duration: 10}}
	out, err := newMerger(runner).MergeDir(context.Background(), dir, true)
	if err != nil {
		t.Fatalf("MergeDir: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	blended := false
	for _, c := range runner.Calls() {
		if strings.Contains(strings.Join(c.Args, " "), "blend=all_mode=addition") {
			blended = true
		}
	}
	if !blended {
		t.Error("diff merge did not run additive blend")
	}
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestFtoaPlainDecimal(t *testing.T) {
	cases := map[float64]string{
		10:        "10",
		2.5:       "2.5",
		0.0000001: "0.0000001",
		12345678:  "12345678",
	}
	for in, want := range cases {
		if got := ftoa(in); got != want {
			t.Errorf("ftoa(%v) = %q, want %q", in, got, want)
		}
	}
}
