package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/vidvault/api/internal/config"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/pipeline"
	"github.com/vidvault/api/internal/registry"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/internal/storage"
	"github.com/vidvault/api/internal/websocket"
)

// BuildOrchestrator constructs a pipeline from an effective config. The
// worker rebuilds per task so settings changes apply to the next job
// without a restart.
type BuildOrchestrator func(cfg *config.Config) *pipeline.Orchestrator

// DefaultBuilder wires the production backends from config.
func DefaultBuilder(runner media.Runner) BuildOrchestrator {
	return func(cfg *config.Config) *pipeline.Orchestrator {
		engine := media.NewEngine(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, runner)

		transcriber := pipeline.NewTranscriber(cfg.Script.Backend, cfg.Script.Binary, cfg.Script.Model, runner)

		var captioner pipeline.Captioner
		if cfg.Script.VisualCommand != "" {
			captioner = pipeline.NewCommandCaptioner(engine, runner,
				cfg.Script.VisualCommand, cfg.Script.VisualInterval,
				cfg.Script.VisualFrames, cfg.Script.StylePrompt)
		}

		modelRef := cfg.T2V.ModelPath
		if modelRef == "" {
			modelRef = cfg.T2V.ModelID
		}
		generator := pipeline.NewVideoGenerator(cfg.T2V.Backend, cfg.T2V.Command, modelRef,
			runner, engine, cfg.T2V.StubDurationSec)

		return pipeline.New(engine, transcriber, captioner, generator, pipeline.Options{
			AudioFormat: cfg.Audio.Format,
			AudioMaxMB:  cfg.Audio.MaxMB,
			DiffEnabled: cfg.Diff.Enabled,
			DiffQuality: cfg.Diff.Quality,
		})
	}
}

// StoreWorker processes store pipeline tasks.
type StoreWorker struct {
	store    *storage.Store
	jobs     *registry.Jobs
	hub      *websocket.Hub
	cfg      *config.Config
	settings *service.SettingsService
	build    BuildOrchestrator
}

func NewStoreWorker(store *storage.Store, jobs *registry.Jobs, hub *websocket.Hub, cfg *config.Config, settings *service.SettingsService, build BuildOrchestrator) *StoreWorker {
	return &StoreWorker{
		store:    store,
		jobs:     jobs,
		hub:      hub,
		cfg:      cfg,
		settings: settings,
		build:    build,
	}
}

// ProcessTask runs the pipeline for one item. The task carries no retry
// budget: a failed run leaves the item incomplete and the client decides
// whether to retry.
func (w *StoreWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.StoreTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}
	id := payload.ID
	log.Printf("[store %s] starting (force=%v)", id, payload.Force)

	// The accepting request registered the job; re-register in case the
	// process restarted between enqueue and delivery.
	w.jobs.Begin(id)
	defer w.jobs.End(id)

	input, ok := w.store.InputPath(id)
	if !ok {
		err := fmt.Errorf("no input video for item %s", id)
		w.broadcastError(id, err)
		return err
	}

	unlock, err := w.store.Lock(id)
	if err != nil {
		w.broadcastError(id, err)
		return err
	}
	defer unlock()

	cfg := w.cfg
	if w.settings != nil {
		if eff, err := w.settings.Effective(cfg); err == nil {
			cfg = eff
		} else {
			log.Printf("[store %s] settings unreadable, using static config: %v", id, err)
		}
	}

	progress := func(phase string, p float64, msg string) {
		w.jobs.Update(id, phase, p, msg)
		if w.hub != nil {
			w.hub.BroadcastProgress(id, phase, p, msg)
		}
		log.Printf("[store %s] %s %3.0f%% %s", id, phase, p*100, msg)
	}

	m, err := w.build(cfg).Run(ctx, input, w.store.Dir(id), payload.Force, progress)
	if err != nil {
		w.broadcastError(id, err)
		log.Printf("[store %s] failed: %v", id, err)
		return err
	}

	if w.hub != nil {
		w.hub.BroadcastComplete(id, map[string]interface{}{
			"id":      id,
			"hasDiff": m.DiffVideo != nil,
		})
	}
	log.Printf("[store %s] ready", id)
	return nil
}

func (w *StoreWorker) broadcastError(id string, err error) {
	if w.hub != nil {
		w.hub.BroadcastError(id, "STORE_FAILED", err.Error())
	}
}
