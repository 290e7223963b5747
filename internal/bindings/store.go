// Package bindings persists the associations between panel controls and
// external devices. Like the plugin config store, the on-disk format is a
// flat JSON mapping of id to record, rewritten whole on every save.
package bindings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"panelhub/pkg/plugin"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Binding associates one panel control with one external device. Name and
// Room are display hints copied from discovery; the embedded DeviceBinding
// is what action routing needs.
type Binding struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Room string `json:"room,omitempty"`
	plugin.DeviceBinding
}

// Store holds bindings in memory and mirrors every mutation to disk.
type Store struct {
	mu       sync.Mutex
	path     string
	logger   *zap.Logger
	bindings map[string]Binding
}

// NewStore creates a binding store backed by the given file path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:     path,
		logger:   logger.Named("bindings"),
		bindings: make(map[string]Binding),
	}
}

// Load reads the persisted bindings. A missing file loads as empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("No bindings file yet, starting empty",
				zap.String("path", s.path))
			return nil
		}
		return &plugin.PersistenceError{Path: s.path, Err: err}
	}

	bindings := make(map[string]Binding)
	if err := json.Unmarshal(data, &bindings); err != nil {
		return &plugin.PersistenceError{
			Path: s.path,
			Err:  fmt.Errorf("failed to parse bindings: %w", err),
		}
	}

	for id, b := range bindings {
		if b.ID != id {
			b.ID = id
			bindings[id] = b
		}
	}
	s.bindings = bindings

	s.logger.Info("Bindings loaded",
		zap.String("path", s.path),
		zap.Int("count", len(bindings)))
	return nil
}

// All returns every binding, sorted by id for stable iteration.
func (s *Store) All() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one binding by id.
func (s *Store) Get(id string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[id]
	return b, ok
}

// Create stores a new binding, assigning a fresh id when none is given.
func (s *Store) Create(b Binding) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.PluginID == "" || b.ExternalDeviceID == "" {
		return Binding{}, fmt.Errorf("binding requires pluginId and externalDeviceId")
	}
	s.bindings[b.ID] = b
	s.saveLocked()

	s.logger.Info("Binding created",
		zap.String("binding", b.ID),
		zap.String("plugin", b.PluginID),
		zap.String("device", b.ExternalDeviceID))
	return b, nil
}

// Delete removes a binding. It reports whether the binding existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bindings[id]; !ok {
		return false
	}
	delete(s.bindings, id)
	s.saveLocked()

	s.logger.Info("Binding deleted", zap.String("binding", id))
	return true
}

func (s *Store) saveLocked() {
	data, err := json.MarshalIndent(s.bindings, "", "  ")
	if err != nil {
		s.logger.Error("Failed to encode bindings", zap.Error(err))
		return
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("Failed to persist bindings", zap.Error(err))
			return
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("Failed to persist bindings", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("Failed to persist bindings", zap.Error(err))
	}
}
