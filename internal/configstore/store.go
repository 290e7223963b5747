// Package configstore persists per-plugin configuration as a flat JSON
// mapping of plugin id to config record. Every save rewrites the whole file
// so an external inspection or a process restart always sees the latest
// accepted configuration.
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"panelhub/pkg/plugin"

	"go.uber.org/zap"
)

// Store loads and saves plugin configuration records.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStore creates a store backed by the given file path. The file does not
// need to exist yet; a missing file loads as an empty mapping.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.Named("configstore"),
	}
}

// Load reads the persisted mapping. A missing file is not an error.
func (s *Store) Load() (map[string]plugin.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("No plugin config file yet, starting empty",
				zap.String("path", s.path))
			return make(map[string]plugin.Config), nil
		}
		return nil, &plugin.PersistenceError{Path: s.path, Err: err}
	}

	configs := make(map[string]plugin.Config)
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, &plugin.PersistenceError{
			Path: s.path,
			Err:  fmt.Errorf("failed to parse plugin configs: %w", err),
		}
	}

	// The mapping key is authoritative for identity; repair any record
	// whose embedded id drifted from its key.
	for id, cfg := range configs {
		if cfg.ID != id {
			cfg.ID = id
			configs[id] = cfg
		}
	}

	s.logger.Info("Plugin configs loaded",
		zap.String("path", s.path),
		zap.Int("count", len(configs)))
	return configs, nil
}

// Save writes the full mapping back to disk, replacing the previous file
// contents atomically via a temp-file rename.
func (s *Store) Save(configs map[string]plugin.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return &plugin.PersistenceError{Path: s.path, Err: err}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &plugin.PersistenceError{Path: s.path, Err: err}
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &plugin.PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &plugin.PersistenceError{Path: s.path, Err: err}
	}

	s.logger.Debug("Plugin configs saved",
		zap.String("path", s.path),
		zap.Int("count", len(configs)))
	return nil
}
