package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/vidvault/api/internal/model"
	"github.com/vidvault/api/internal/registry"
	"github.com/vidvault/api/internal/storage"
)

const TaskTypeStore = "store:process"

// Service-level errors the handlers map onto HTTP statuses.
var (
	ErrNotFound          = errors.New("item not found")
	ErrJobActive         = errors.New("a job is already active for this item")
	ErrUnsupportedFormat = errors.New("unsupported video format")
)

// StoreTaskPayload is the queued unit of work for one pipeline run.
type StoreTaskPayload struct {
	ID    string `json:"id"`
	Force bool   `json:"force"`
}

// TaskEnqueuer is the slice of asynq.Client the service needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StoreService accepts uploads, queues pipeline runs and classifies item
// state from the filesystem plus the in-memory job table.
type StoreService struct {
	store    *storage.Store
	jobs     *registry.Jobs
	enqueuer TaskEnqueuer
}

func NewStoreService(store *storage.Store, jobs *registry.Jobs, enqueuer TaskEnqueuer) *StoreService {
	return &StoreService{store: store, jobs: jobs, enqueuer: enqueuer}
}

// Store persists the upload under a fresh id and queues the pipeline. The
// response returns before any processing happens.
func (s *StoreService) Store(filename string, src io.Reader) (*model.StoreResponse, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !storage.AllowedInputExtensions[ext] {
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}

	id := uuid.New().String()
	dir, err := s.store.CreateItem(id)
	if err != nil {
		return nil, err
	}

	inputPath := filepath.Join(dir, "input."+ext)
	if err := saveStream(inputPath, src); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	if !s.jobs.Begin(id) {
		return nil, ErrJobActive
	}
	if err := s.enqueue(id, false); err != nil {
		s.jobs.End(id)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return &model.StoreResponse{ID: id, Status: model.StatusProcessing}, nil
}

// Retry re-queues the pipeline for an existing item. A second retry while a
// job is active is refused with ErrJobActive.
func (s *StoreService) Retry(id string, force bool) (*model.StoreResponse, error) {
	if _, ok := s.store.InputPath(id); !ok {
		return nil, ErrNotFound
	}
	if !s.jobs.Begin(id) {
		return nil, ErrJobActive
	}
	if err := s.enqueue(id, force); err != nil {
		s.jobs.End(id)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return &model.StoreResponse{ID: id, Status: model.StatusProcessing}, nil
}

// Status classifies one item.
func (s *StoreService) Status(id string) (*model.ItemStatusResponse, error) {
	if !s.store.Exists(id) {
		return nil, ErrNotFound
	}
	return s.classify(id), nil
}

// List classifies every stored item.
func (s *StoreService) List() (*model.ListStoredResponse, error) {
	ids, err := s.store.List()
	if err != nil {
		return nil, err
	}
	items := make([]model.ItemStatusResponse, 0, len(ids))
	for _, id := range ids {
		items = append(items, *s.classify(id))
	}
	return &model.ListStoredResponse{Items: items}, nil
}

// classify derives the status each call: an active job wins (a forced retry
// on a ready item shows as processing), then the manifest, then incomplete.
func (s *StoreService) classify(id string) *model.ItemStatusResponse {
	resp := &model.ItemStatusResponse{ID: id, Status: model.StatusIncomplete}
	if p, ok := s.jobs.Get(id); ok {
		resp.Status = model.StatusProcessing
		resp.Phase = p.Phase
		resp.Progress = p.Progress
		resp.Message = p.Message
		return resp
	}
	if s.store.HasManifest(id) {
		resp.Status = model.StatusReady
		if m, err := s.store.ReadManifest(id); err == nil {
			resp.HasDiff = m.DiffVideo != nil
		}
	}
	return resp
}

func (s *StoreService) enqueue(id string, force bool) error {
	payload, err := json.Marshal(StoreTaskPayload{ID: id, Force: force})
	if err != nil {
		return err
	}
	_, err = s.enqueuer.Enqueue(asynq.NewTask(TaskTypeStore, payload),
		asynq.Queue("store"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	return err
}

func saveStream(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}
