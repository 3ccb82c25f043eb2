package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vidvault/api/internal/model"
	"github.com/vidvault/api/internal/reconstitute"
	"github.com/vidvault/api/internal/storage"
)

// ErrNoOutput means the item has not been reconstituted yet.
var ErrNoOutput = errors.New("no reconstituted output")

// StreamService produces reconstituted outputs and resolves them for
// streaming.
type StreamService struct {
	store  *storage.Store
	merger *reconstitute.Merger
}

func NewStreamService(store *storage.Store, merger *reconstitute.Merger) *StreamService {
	return &StreamService{store: store, merger: merger}
}

// Reconstitute merges the item's artifacts into a playable file. The
// per-item writer lock serializes it against a concurrent pipeline run on
// the same directory.
func (s *StreamService) Reconstitute(ctx context.Context, id string, useDiff bool) (*model.ReconstituteResponse, error) {
	if !s.store.Exists(id) {
		return nil, ErrNotFound
	}

	unlock, err := s.store.Lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out, err := s.merger.MergeDir(ctx, s.store.Dir(id), useDiff)
	if err != nil {
		return nil, err
	}
	return &model.ReconstituteResponse{
		ID:        id,
		Filename:  filepath.Base(out),
		StreamURL: "/stream/" + id,
	}, nil
}

// FilePath resolves the streamable output for an item: the diff-restored
// variant when present, else the plain merge.
func (s *StreamService) FilePath(id string) (string, error) {
	if !s.store.Exists(id) {
		return "", ErrNotFound
	}
	dir := s.store.Dir(id)
	for _, name := range []string{storage.ReconstitutedDiffName, storage.ReconstitutedName} {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w for item %s", ErrNoOutput, id)
}

// Info returns the stream metadata without touching the file body.
func (s *StreamService) Info(id string) (*model.StreamInfoResponse, error) {
	path, err := s.FilePath(id)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &model.StreamInfoResponse{
		ID:       id,
		Filename: filepath.Base(path),
		Size:     fi.Size(),
	}, nil
}
