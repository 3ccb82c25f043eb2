// Package registry holds the ephemeral in-process state of the service:
// progress of running jobs and the single-flight guard around model
// downloads. Nothing here survives a restart; the filesystem manifest is
// the sole authority on completed work.
package registry

import (
	"sync"
	"time"
)

// Progress is the last reported state of a running job. Status polling may
// race a job's own writes; readers get whichever snapshot was latest.
type Progress struct {
	ID        string    `json:"id"`
	Phase     string    `json:"phase"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	StartedAt time.Time `json:"started_at"`
}

// Jobs maps item ids to the progress of their active pipeline run. An entry
// exists exactly while a job is running.
type Jobs struct {
	mu     sync.RWMutex
	active map[string]Progress
}

func NewJobs() *Jobs {
	return &Jobs{active: make(map[string]Progress)}
}

// Begin registers a job for id. It returns false when a job is already
// active for that id, which is how double store/retry requests are refused.
func (j *Jobs) Begin(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.active[id]; ok {
		return false
	}
	j.active[id] = Progress{ID: id, Phase: "queued", StartedAt: time.Now()}
	return true
}

// Update records the latest phase for an active job. Updates for ids
// without an active job are dropped.
func (j *Jobs) Update(id, phase string, progress float64, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	p, ok := j.active[id]
	if !ok {
		return
	}
	p.Phase = phase
	p.Progress = progress
	p.Message = message
	j.active[id] = p
}

// Get returns the progress of an active job.
func (j *Jobs) Get(id string) (Progress, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	p, ok := j.active[id]
	return p, ok
}

// End removes the job entry. After End, status classification falls back
// to the filesystem (manifest present or not).
func (j *Jobs) End(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.active, id)
}

// Download states.
const (
	DownloadIdle    = "idle"
	DownloadRunning = "running"
	DownloadDone    = "done"
	DownloadFailed  = "failed"
)

// DownloadState describes the most recent model download.
type DownloadState struct {
	Status    string    `json:"status"`
	Model     string    `json:"model"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Downloads serializes background model downloads: at most one runs at a
// time, a second start request is refused rather than raced.
type Downloads struct {
	mu    sync.Mutex
	state DownloadState
}

func NewDownloads() *Downloads {
	return &Downloads{state: DownloadState{Status: DownloadIdle}}
}

// Start claims the download slot for model. It returns false when another
// download is already running.
func (d *Downloads) Start(model string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Status == DownloadRunning {
		return false
	}
	d.state = DownloadState{Status: DownloadRunning, Model: model, StartedAt: time.Now()}
	return true
}

// Finish releases the slot, recording the outcome.
func (d *Downloads) Finish(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state.Status = DownloadFailed
		d.state.Error = err.Error()
		return
	}
	d.state.Status = DownloadDone
	d.state.Error = ""
}

// State returns a snapshot of the latest download.
func (d *Downloads) State() DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
