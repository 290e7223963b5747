// Package config loads the hub's own configuration file. Plugin settings are
// not in here; those live in the plugin config store and are managed at
// runtime through the manager.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// HubConfig is the hub.yaml structure.
type HubConfig struct {
	// Port the API server listens on.
	Port int `yaml:"port"`

	// DataDir holds the persisted plugin configs and bindings.
	DataDir string `yaml:"data_dir"`

	// PollIntervalSeconds is the default device-state polling period for
	// plugins that do not advertise their own hint.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// Defaults applied when hub.yaml is absent or leaves fields unset.
const (
	DefaultPort         = 8099
	DefaultDataDir      = "data"
	DefaultPollInterval = 60
)

// Load reads hub.yaml from the given path. A missing file is not an error;
// defaults apply.
func Load(path string, logger *zap.Logger) (*HubConfig, error) {
	cfg := &HubConfig{
		Port:                DefaultPort,
		DataDir:             DefaultDataDir,
		PollIntervalSeconds: DefaultPollInterval,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No hub config file, using defaults",
				zap.String("path", path))
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read hub config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hub config: %w", err)
	}

	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = DefaultPollInterval
	}

	logger.Info("Hub config loaded",
		zap.String("path", path),
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir))
	return cfg, nil
}

// PollInterval returns the default polling period as a duration.
func (c *HubConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
