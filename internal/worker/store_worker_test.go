package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/vidvault/api/internal/config"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/media/mediatest"
	"github.com/vidvault/api/internal/registry"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/internal/storage"
)

func fakeBuilder(runner media.Runner) BuildOrchestrator {
	return DefaultBuilder(runner)
}

func storeTask(t *testing.T, id string, force bool) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(service.StoreTaskPayload{ID: id, Force: force})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(service.TaskTypeStore, payload)
}

func baseConfig() *config.Config {
	return &config.Config{
		Audio: config.AudioConfig{Format: "aac", MaxMB: 5},
		T2V:   config.T2VConfig{Backend: "stub", StubDurationSec: 5},
		Diff:  config.DiffConfig{Enabled: true, Quality: 6},
	}
}

func TestProcessTaskRunsPipelineToReady(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir, _ := store.CreateItem("item1")
	os.WriteFile(filepath.Join(dir, "input.mp4"), []byte("v"), 0o644)

	jobs := registry.NewJobs()
	jobs.Begin("item1")

	runner := &mediatest.FakeRunner{}
	w := NewStoreWorker(store, jobs, nil, baseConfig(), nil, fakeBuilder(runner))

	if err := w.ProcessTask(context.Background(), storeTask(t, "item1", false)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if !store.HasManifest("item1") {
		t.Error("pipeline did not reach ready")
	}
	if _, active := jobs.Get("item1"); active {
		t.Error("job record not cleared after completion")
	}
}

func TestProcessTaskFailsWithoutInput(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store.CreateItem("empty1")

	jobs := registry.NewJobs()
	w := NewStoreWorker(store, jobs, nil, baseConfig(), nil, fakeBuilder(&mediatest.FakeRunner{}))

	if err := w.ProcessTask(context.Background(), storeTask(t, "empty1", false)); err == nil {
		t.Fatal("ProcessTask succeeded without an input video")
	}
	if _, active := jobs.Get("empty1"); active {
		t.Error("job record leaked after failure")
	}
}

func TestProcessTaskAppliesSettingsOverlay(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir, _ := store.CreateItem("item1")
	os.WriteFile(filepath.Join(dir, "input.mp4"), []byte("v"), 0o644)

	settings := service.NewSettingsService(filepath.Join(t.TempDir(), "settings.json"))
	if _, err := settings.Update(map[string]interface{}{
		"diff": map[string]interface{}{"enabled": false},
	}); err != nil {
		t.Fatal(err)
	}

	runner := &mediatest.FakeRunner{}
	w := NewStoreWorker(store, registry.NewJobs(), nil, baseConfig(), settings, fakeBuilder(runner))

	if err := w.ProcessTask(context.Background(), storeTask(t, "item1", false)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	// Diff disabled via settings: no theora encode, manifest diff is null.
	if n := runner.CountWithArg("libtheora"); n != 0 {
		t.Errorf("diff computed %d times despite settings override", n)
	}
	m, err := store.ReadManifest("item1")
	if err != nil {
		t.Fatal(err)
	}
	if m.DiffVideo != nil {
		t.Errorf("diff_video = %v, want null", *m.DiffVideo)
	}
}
