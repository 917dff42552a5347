package ann

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrModelNotFound is returned when a model id has no disk or memory entry.
var ErrModelNotFound = errors.New("ann: model not found")

// Registry stores trained models as JSON on disk, keeping loaded models in
// memory for reuse across requests.
type Registry struct {
	dir string

	mu     sync.RWMutex
	active map[string]*Model
}

// NewRegistry creates the model directory if needed.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ann: create model dir: %w", err)
	}
	return &Registry{dir: dir, active: make(map[string]*Model)}, nil
}

// ModelID derives a model id from the dataset id it was trained on: a
// truncated digest plus a timestamp so retraining never overwrites.
func ModelID(fileID string) string {
	sum := sha256.Sum256([]byte(fileID))
	return fmt.Sprintf("ann_model_%s_%d", hex.EncodeToString(sum[:])[:16], time.Now().Unix())
}

// Save assigns the id, writes the model to disk, and caches it.
func (r *Registry) Save(id string, m *Model) error {
	m.ID = id
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ann: encode model: %w", err)
	}
	if err := os.WriteFile(r.path(id), data, 0o644); err != nil {
		return fmt.Errorf("ann: write model: %w", err)
	}
	r.mu.Lock()
	r.active[id] = m
	r.mu.Unlock()
	return nil
}

// Get returns a model from memory, falling back to disk.
func (r *Registry) Get(id string) (*Model, error) {
	r.mu.RLock()
	m, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	data, err := os.ReadFile(r.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ann: read model: %w", err)
	}
	m = &Model{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("ann: decode model %s: %w", id, err)
	}
	r.mu.Lock()
	r.active[id] = m
	r.mu.Unlock()
	return m, nil
}

// ModelInfo is the listing view of a stored model.
type ModelInfo struct {
	ID             string    `json:"model_id"`
	TargetColumn   string    `json:"target_column"`
	FeatureColumns []string  `json:"feature_columns"`
	Metrics        Metrics   `json:"metrics"`
	CreatedAt      time.Time `json:"created_at"`
}

// List returns every stored model, newest first.
func (r *Registry) List() ([]ModelInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("ann: list models: %w", err)
	}
	var out []ModelInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := r.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, ModelInfo{
			ID:             m.ID,
			TargetColumn:   m.TargetName,
			FeatureColumns: m.FeatureNames,
			Metrics:        m.Metrics,
			CreatedAt:      m.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.dir, filepath.Base(id)+".json")
}
