package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/registry"
)

// ErrDownloadActive means another model download is already in flight.
var ErrDownloadActive = errors.New("a model download is already running")

const downloadTimeout = 2 * time.Hour

// DownloadService fetches text-to-video model weights in the background.
// huggingface-cli resumes partial downloads, so a failed or interrupted
// attempt can simply be started again.
type DownloadService struct {
	downloads *registry.Downloads
	runner    media.Runner
	binary    string
	modelID   string
	modelPath string
}

func NewDownloadService(downloads *registry.Downloads, runner media.Runner, modelID, modelPath string) *DownloadService {
	if runner == nil {
		runner = media.NewRunner()
	}
	return &DownloadService{
		downloads: downloads,
		runner:    runner,
		binary:    "huggingface-cli",
		modelID:   modelID,
		modelPath: modelPath,
	}
}

// Start launches a background download of model (the configured default
// when empty). At most one download runs at a time.
func (d *DownloadService) Start(model string) (registry.DownloadState, error) {
	if model == "" {
		model = d.modelID
	}
	if !media.Available(d.binary) {
		return d.downloads.State(), fmt.Errorf("%s not found on PATH", d.binary)
	}
	if !d.downloads.Start(model) {
		return d.downloads.State(), ErrDownloadActive
	}
	go d.run(model)
	return d.downloads.State(), nil
}

// Status reports the latest download state.
func (d *DownloadService) Status() registry.DownloadState {
	return d.downloads.State()
}

func (d *DownloadService) run(model string) {
	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()

	log.Printf("download: fetching %s into %s", model, d.modelPath)
	_, stderr, err := d.runner.Run(ctx, d.binary,
		"download", model,
		"--local-dir", d.modelPath,
	)
	if err != nil {
		err = fmt.Errorf("%s: %w: %s", d.binary, err, strings.TrimSpace(string(stderr)))
		log.Printf("download: %v", err)
	} else {
		log.Printf("download: %s complete", model)
	}
	d.downloads.Finish(err)
}
