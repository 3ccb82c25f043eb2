// Package storage owns the on-disk layout of stored items. Stage outputs
// on disk are the single source of truth for completion; there is no
// separate ledger, which is what makes crashed runs resumable.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

// Conventional artifact names inside a stored item directory.
const (
	ManifestName          = "manifest.json"
	ScriptName            = "script.txt"
	ResultantName         = "resultant.mp4"
	DiffName              = "diff.ogv"
	ReconstitutedName     = "reconstituted.mp4"
	ReconstitutedDiffName = "reconstituted_original.mp4"

	inputPrefix = "input"
	lockName    = ".lock"
)

// AllowedInputExtensions lists the accepted upload container formats.
var AllowedInputExtensions = map[string]bool{
	"mp4": true, "mov": true, "avi": true, "mkv": true, "webm": true,
}

// Manifest records the artifact paths of a ready item. It is written once,
// atomically, after the last stage succeeds. DiffVideo is nil when diff
// computation was disabled or failed.
type Manifest struct {
	OriginalVideo  string  `json:"original_video"`
	Audio          string  `json:"audio"`
	Script         string  `json:"script"`
	ResultantVideo string  `json:"resultant_video"`
	DiffVideo      *string `json:"diff_video"`
}

// Store manages stored item directories under a single root.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// Dir returns the directory for an item id without creating it.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// Exists reports whether the item directory is present.
func (s *Store) Exists(id string) bool {
	fi, err := os.Stat(s.Dir(id))
	return err == nil && fi.IsDir()
}

// CreateItem makes the item directory and returns it.
func (s *Store) CreateItem(id string) (string, error) {
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create item dir: %w", err)
	}
	return dir, nil
}

// InputPath locates the stored input video (input.<ext>).
func (s *Store) InputPath(id string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(s.Dir(id), inputPrefix+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// AudioPath locates the stored audio artifact by conventional name.
func (s *Store) AudioPath(id string) (string, bool) {
	for _, ext := range []string{"aac", "mp3"} {
		p := filepath.Join(s.Dir(id), "audio."+ext)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func (s *Store) ManifestPath(id string) string {
	return filepath.Join(s.Dir(id), ManifestName)
}

// HasManifest reports whether the item is ready.
func (s *Store) HasManifest(id string) bool {
	return fileExists(s.ManifestPath(id))
}

func (s *Store) ReadManifest(id string) (*Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath(id))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest persists the manifest atomically (temp file + rename) so a
// concurrent status check never observes a half-written manifest as ready.
func (s *Store) WriteManifest(id string, m *Manifest) error {
	return WriteManifestDir(s.Dir(id), m)
}

// WriteManifestDir writes a manifest into an item directory addressed by
// path rather than id, for callers that operate on bare directories.
func WriteManifestDir(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(filepath.Join(dir, ManifestName), data, 0o644)
}

// List returns the ids of all item directories that contain an input file,
// sorted by id.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := s.InputPath(e.Name()); ok {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Lock takes the per-item writer lock, serializing a pipeline run against a
// concurrent reconstitute on the same item. Readers stay lock-free; every
// observable write is temp-file+rename. The returned function releases the
// lock.
func (s *Store) Lock(id string) (func(), error) {
	fl := flock.New(filepath.Join(s.Dir(id), lockName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock item %s: %w", id, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// WriteFileAtomic writes data to a sibling temp file and renames it into
// place, so partial writes are never observed under the final name.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// TempPath derives a temp name that keeps the original extension, which
// matters for tools that sniff output format from the suffix.
func TempPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".tmp" + ext
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
