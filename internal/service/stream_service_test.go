package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/media/mediatest"
	"github.com/vidvault/api/internal/reconstitute"
	"github.com/vidvault/api/internal/storage"
)

func newStreamService(t *testing.T, runner media.Runner) (*StreamService, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	eng := media.NewEngine("", "", runner)
	return NewStreamService(store, reconstitute.NewMerger(eng, diff.NewEngine(eng))), store
}

func TestReconstituteProducesStreamableOutput(t *testing.T) {
	runner := &mediatest.FakeRunner{Probe: mediatest.ProbeSpec{Width: 1280, Height: 720, FPS: "30/1", Duration: 10}}
	svc, store := newStreamService(t, runner)

	dir, _ := store.CreateItem("item1")
	os.WriteFile(filepath.Join(dir, "audio.aac"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "resultant.mp4"), []byte("v"), 0o644)

	resp, err := svc.Reconstitute(context.Background(), "item1", false)
	if err != nil {
		t.Fatalf("Reconstitute: %v", err)
	}
	if resp.Filename != storage.ReconstitutedName {
		t.Errorf("filename = %s", resp.Filename)
	}
	if resp.StreamURL != "/stream/item1" {
		t.Errorf("streamUrl = %s", resp.StreamURL)
	}

	path, err := svc.FilePath("item1")
	if err != nil {
		t.Fatalf("FilePath: %v", err)
	}
	if filepath.Base(path) != storage.ReconstitutedName {
		t.Errorf("FilePath = %s", path)
	}

	info, err := svc.Info("item1")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	fi, _ := os.Stat(path)
	if info.Size != fi.Size() || info.Filename != storage.ReconstitutedName {
		t.Errorf("info = %+v", info)
	}
}

func TestFilePathPrefersDiffRestoredVariant(t *testing.T) {
	svc, store := newStreamService(t, &mediatest.FakeRunner{})

	dir, _ := store.CreateItem("item1")
	os.WriteFile(filepath.Join(dir, storage.ReconstitutedName), []byte("plain"), 0o644)
	os.WriteFile(filepath.Join(dir, storage.ReconstitutedDiffName), []byte("restored"), 0o644)

	path, err := svc.FilePath("item1")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != storage.ReconstitutedDiffName {
		t.Errorf("FilePath = %s, want diff-restored variant", path)
	}
}

func TestStreamServiceErrors(t *testing.T) {
	svc, store := newStreamService(t, &mediatest.FakeRunner{})

	if _, err := svc.FilePath("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FilePath(ghost) err = %v", err)
	}
	if _, err := svc.Reconstitute(context.Background(), "ghost", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reconstitute(ghost) err = %v", err)
	}

	store.CreateItem("empty1")
	if _, err := svc.FilePath("empty1"); !errors.Is(err, ErrNoOutput) {
		t.Errorf("FilePath(empty1) err = %v", err)
	}
	if _, err := svc.Reconstitute(context.Background(), "empty1", false); !errors.Is(err, reconstitute.ErrMissingArtifacts) {
		t.Errorf("Reconstitute(empty1) err = %v", err)
	}
}
