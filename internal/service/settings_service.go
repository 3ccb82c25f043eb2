package service

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/vidvault/api/internal/config"
	"github.com/vidvault/api/internal/storage"
)

// SettingsService persists user-adjustable pipeline settings as a JSON
// document overlaying the static config. Updates merge recursively, so a
// client can PUT {"diff": {"quality": 8}} without clobbering its siblings.
type SettingsService struct {
	mu   sync.Mutex
	path string
}

func NewSettingsService(path string) *SettingsService {
	return &SettingsService{path: path}
}

// Get returns the persisted settings document, empty when none exists.
func (s *SettingsService) Get() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update deep-merges patch into the persisted settings and writes the
// result atomically.
func (s *SettingsService) Update(patch map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return nil, err
	}
	merged := DeepMerge(current, patch)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := storage.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return nil, err
	}
	return merged, nil
}

// Effective overlays the persisted settings onto cfg and returns the
// result. Unknown keys are ignored; cfg itself is not mutated.
func (s *SettingsService) Effective(cfg *config.Config) (*config.Config, error) {
	doc, err := s.Get()
	if err != nil {
		return nil, err
	}
	out := *cfg

	if m := subMap(doc, "audio"); m != nil {
		applyString(m, "format", &out.Audio.Format)
		applyFloat(m, "max_mb", &out.Audio.MaxMB)
	}
	if m := subMap(doc, "script"); m != nil {
		applyString(m, "backend", &out.Script.Backend)
		applyString(m, "model", &out.Script.Model)
		applyString(m, "visual_command", &out.Script.VisualCommand)
		applyFloat(m, "visual_interval", &out.Script.VisualInterval)
		applyString(m, "style_prompt", &out.Script.StylePrompt)
	}
	if m := subMap(doc, "t2v"); m != nil {
		applyString(m, "backend", &out.T2V.Backend)
		applyString(m, "command", &out.T2V.Command)
		applyString(m, "model_id", &out.T2V.ModelID)
		applyString(m, "model_path", &out.T2V.ModelPath)
		applyFloat(m, "stub_duration_sec", &out.T2V.StubDurationSec)
	}
	if m := subMap(doc, "diff"); m != nil {
		applyBool(m, "enabled", &out.Diff.Enabled)
		applyInt(m, "quality", &out.Diff.Quality)
	}
	return &out, nil
}

func (s *SettingsService) read() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeepMerge merges src into dst recursively: nested objects merge key by
// key, everything else in src overwrites. dst is returned mutated.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = DeepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func subMap(doc map[string]interface{}, key string) map[string]interface{} {
	m, _ := doc[key].(map[string]interface{})
	return m
}

func applyString(m map[string]interface{}, key string, dst *string) {
	if v, ok := m[key].(string); ok {
		*dst = v
	}
}

func applyFloat(m map[string]interface{}, key string, dst *float64) {
	if v, ok := m[key].(float64); ok {
		*dst = v
	}
}

func applyInt(m map[string]interface{}, key string, dst *int) {
	if v, ok := m[key].(float64); ok { // JSON numbers decode as float64
		*dst = int(v)
	}
}

func applyBool(m map[string]interface{}, key string, dst *bool) {
	if v, ok := m[key].(bool); ok {
		*dst = v
	}
}
