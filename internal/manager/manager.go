// Package manager owns the registry of live plugin instances and their
// persisted configurations. All external callers (HTTP routes, the poller,
// schedulers) go through the manager; it routes work to plugins, applies
// configuration transitions, and keeps the on-disk config in sync after
// every mutation.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"panelhub/internal/configstore"
	"panelhub/pkg/plugin"

	"go.uber.org/zap"
)

const fallbackRequestTimeout = 15 * time.Second

// capabilities caches which optional interfaces a plugin instance satisfies.
// Probed once at registration so routing never re-asserts per call.
type capabilities struct {
	provider plugin.DeviceProvider
	executor plugin.ActionExecutor
	tester   plugin.ConnectionTester
	reader   plugin.StateReader
	fallback plugin.HTTPFallback
	pollable plugin.Pollable
}

func probeCapabilities(p plugin.Plugin) capabilities {
	var caps capabilities
	caps.provider, _ = p.(plugin.DeviceProvider)
	caps.executor, _ = p.(plugin.ActionExecutor)
	caps.tester, _ = p.(plugin.ConnectionTester)
	caps.reader, _ = p.(plugin.StateReader)
	caps.fallback, _ = p.(plugin.HTTPFallback)
	caps.pollable, _ = p.(plugin.Pollable)
	return caps
}

type entry struct {
	plugin plugin.Plugin
	caps   capabilities
}

// Manager is the registry of live plugin instances and their configs.
type Manager struct {
	logger     *zap.Logger
	store      *configstore.Store
	httpClient *http.Client
	metrics    *Metrics

	// mu guards plugins and configs, and serializes configuration
	// transitions so enable/disable logic is applied atomically.
	mu      sync.Mutex
	plugins map[string]*entry
	configs map[string]plugin.Config
}

// NewManager creates a manager and loads the persisted configs. A failed
// load is logged and the manager starts with an empty in-memory mapping.
func NewManager(store *configstore.Store, metrics *Metrics, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:     logger.Named("manager"),
		store:      store,
		httpClient: &http.Client{Timeout: fallbackRequestTimeout},
		metrics:    metrics,
		plugins:    make(map[string]*entry),
		configs:    make(map[string]plugin.Config),
	}

	configs, err := store.Load()
	if err != nil {
		m.logger.Error("Failed to load plugin configs, continuing with empty state",
			zap.Error(err))
		configs = make(map[string]plugin.Config)
	}
	m.configs = configs
	return m
}

// Register adds a plugin instance to the registry. A first registration with
// no persisted config creates a disabled default; re-registering the same id
// replaces the instance but never touches the existing config.
func (m *Manager) Register(p plugin.Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.ID()
	if _, exists := m.plugins[id]; exists {
		m.logger.Warn("Replacing already registered plugin instance",
			zap.String("plugin", id))
	}
	m.plugins[id] = &entry{plugin: p, caps: probeCapabilities(p)}

	if _, ok := m.configs[id]; !ok {
		m.configs[id] = plugin.Config{
			ID:       id,
			Name:     p.Name(),
			Enabled:  false,
			Settings: map[string]any{},
		}
		m.saveLocked()
	}

	m.logger.Info("Plugin registered",
		zap.String("plugin", id),
		zap.String("type", string(p.Type())))
}

// InitializeAll initializes every registered plugin whose config is enabled.
// A single plugin's failure is logged and isolated; startup proceeds.
func (m *Manager) InitializeAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.plugins {
		cfg, ok := m.configs[id]
		if !ok || !cfg.Enabled {
			continue
		}
		if err := e.plugin.Initialize(ctx, cfg.Clone()); err != nil {
			m.logger.Error("Plugin initialization failed",
				zap.String("plugin", id), zap.Error(err))
			continue
		}
		m.logger.Info("Plugin initialized", zap.String("plugin", id))
	}
}

// ShutdownAll shuts down every registered plugin, best-effort. Individual
// failures are logged, never propagated.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.plugins {
		if err := e.plugin.Shutdown(ctx); err != nil {
			m.logger.Error("Plugin shutdown failed",
				zap.String("plugin", id), zap.Error(err))
		}
	}
}

// Info describes a registered plugin and its current status for callers
// outside the runtime.
type Info struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	Type            plugin.Type   `json:"type"`
	Enabled         bool          `json:"enabled"`
	Capabilities    []string      `json:"capabilities"`
	PollingInterval time.Duration `json:"pollingInterval,omitempty"`
}

// Plugins lists all registered plugins, sorted by id.
func (m *Manager) Plugins() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.plugins))
	for id, e := range m.plugins {
		infos = append(infos, m.infoLocked(id, e))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Plugin returns the info for one registered plugin.
func (m *Manager) Plugin(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.plugins[id]
	if !ok {
		return Info{}, false
	}
	return m.infoLocked(id, e), true
}

func (m *Manager) infoLocked(id string, e *entry) Info {
	info := Info{
		ID:          id,
		Name:        e.plugin.Name(),
		Description: e.plugin.Description(),
		Type:        e.plugin.Type(),
		Enabled:     m.configs[id].Enabled,
	}
	if e.caps.provider != nil {
		info.Capabilities = append(info.Capabilities, "discoverDevices")
	}
	if e.caps.executor != nil {
		info.Capabilities = append(info.Capabilities, "executeAction")
	}
	if e.caps.tester != nil {
		info.Capabilities = append(info.Capabilities, "testConnection")
	}
	if e.caps.reader != nil {
		info.Capabilities = append(info.Capabilities, "getDeviceState")
	}
	if e.caps.fallback != nil {
		info.Capabilities = append(info.Capabilities, "getHttpConfig")
	}
	if e.caps.pollable != nil {
		info.PollingInterval = e.caps.pollable.PollingInterval()
	}
	return info
}

// PluginConfig returns the current config for a registered plugin.
func (m *Manager) PluginConfig(id string) (plugin.Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok {
		return plugin.Config{}, false
	}
	return cfg.Clone(), true
}

// ConfigUpdate is a partial configuration update. Nil fields keep the
// existing value; a non-nil Settings map replaces the stored one whole.
type ConfigUpdate struct {
	Name     *string        `json:"name,omitempty"`
	Enabled  *bool          `json:"enabled,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// SetPluginConfig merges a partial update over the existing config, persists
// it immediately, and applies exactly one transition based on the diff:
// enable runs Initialize (failure propagates), disable runs Shutdown, and a
// settings change while enabled runs a full Shutdown+Initialize cycle so no
// stale session survives. Failures on the latter two are logged only, since
// the config is already persisted.
func (m *Manager) SetPluginConfig(ctx context.Context, id string, update ConfigUpdate) (plugin.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.plugins[id]
	if !ok {
		return plugin.Config{}, &plugin.RoutingError{PluginID: id, Reason: "not registered"}
	}

	old := m.configs[id]
	merged := old.Clone()
	merged.ID = id
	if update.Name != nil {
		merged.Name = *update.Name
	}
	if update.Enabled != nil {
		merged.Enabled = *update.Enabled
	}
	if update.Settings != nil {
		merged.Settings = update.Settings
	}

	m.configs[id] = merged
	m.saveLocked()

	settingsChanged := update.Settings != nil && !reflect.DeepEqual(old.Settings, merged.Settings)

	switch {
	case !old.Enabled && merged.Enabled:
		if err := e.plugin.Initialize(ctx, merged.Clone()); err != nil {
			return merged.Clone(), fmt.Errorf("failed to enable plugin %s: %w", id, err)
		}
		m.logger.Info("Plugin enabled", zap.String("plugin", id))

	case old.Enabled && !merged.Enabled:
		if err := e.plugin.Shutdown(ctx); err != nil {
			m.logger.Error("Plugin shutdown after disable failed",
				zap.String("plugin", id), zap.Error(err))
		}
		m.logger.Info("Plugin disabled", zap.String("plugin", id))

	case merged.Enabled && settingsChanged:
		if err := e.plugin.Shutdown(ctx); err != nil {
			m.logger.Error("Plugin shutdown before reinitialize failed",
				zap.String("plugin", id), zap.Error(err))
		}
		if err := e.plugin.Initialize(ctx, merged.Clone()); err != nil {
			m.logger.Error("Plugin reinitialize after settings change failed",
				zap.String("plugin", id), zap.Error(err))
		} else {
			m.logger.Info("Plugin reinitialized with new settings",
				zap.String("plugin", id))
		}
	}

	return merged.Clone(), nil
}

// saveLocked persists the config mapping. Persistence failures are logged;
// the in-memory state remains authoritative.
func (m *Manager) saveLocked() {
	snapshot := make(map[string]plugin.Config, len(m.configs))
	for id, cfg := range m.configs {
		snapshot[id] = cfg.Clone()
	}
	if err := m.store.Save(snapshot); err != nil {
		m.logger.Error("Failed to persist plugin configs", zap.Error(err))
	}
}

// resolve looks up a plugin entry and whether its config is enabled.
func (m *Manager) resolve(id string) (*entry, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.plugins[id]
	if !ok {
		return nil, false, false
	}
	return e, true, m.configs[id].Enabled
}

// Discover runs device discovery on an enabled plugin.
func (m *Manager) Discover(ctx context.Context, id string) ([]plugin.ImportableDevice, error) {
	e, registered, enabled := m.resolve(id)
	if !registered {
		return nil, &plugin.RoutingError{PluginID: id, Reason: "not registered"}
	}
	if !enabled {
		return nil, &plugin.RoutingError{PluginID: id, Reason: "not enabled"}
	}
	if e.caps.provider == nil {
		return nil, &plugin.RoutingError{PluginID: id, Reason: "does not support device discovery"}
	}

	devices, err := e.caps.provider.DiscoverDevices(ctx)
	if err != nil {
		m.metrics.Discoveries.WithLabelValues(id, outcomeFailure).Inc()
		return nil, err
	}
	m.metrics.Discoveries.WithLabelValues(id, outcomeSuccess).Inc()
	return devices, nil
}

// ExecuteAction routes a device action to the plugin named by the binding.
// Every failure mode comes back as a structured result, never a fault:
// unknown or disabled plugins fail with a routing message, plugins without
// either execution capability fail as unsupported.
func (m *Manager) ExecuteAction(ctx context.Context, action plugin.ActionContext) plugin.ActionResult {
	id := action.Binding.PluginID

	e, registered, enabled := m.resolve(id)
	if !registered {
		m.metrics.Actions.WithLabelValues(id, outcomeRouting).Inc()
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("plugin %s is not registered", id),
		}
	}
	if !enabled {
		m.metrics.Actions.WithLabelValues(id, outcomeRouting).Inc()
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("plugin %s is disabled", id),
		}
	}

	var result plugin.ActionResult
	switch {
	case e.caps.executor != nil:
		result = e.caps.executor.ExecuteAction(ctx, action)

	case e.caps.fallback != nil:
		result = m.executeFallback(ctx, e.caps.fallback, action)

	default:
		m.metrics.Actions.WithLabelValues(id, outcomeUnsupported).Inc()
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("plugin %s does not support action execution", id),
		}
	}

	if result.Success {
		m.metrics.Actions.WithLabelValues(id, outcomeSuccess).Inc()
	} else {
		m.metrics.Actions.WithLabelValues(id, outcomeFailure).Inc()
	}
	return result
}

// TestConnection runs a plugin's connectivity test. A disabled plugin is
// initialized just for the duration of the test and shut down afterwards
// regardless of the outcome, so the temporary session never leaks.
func (m *Manager) TestConnection(ctx context.Context, id string) plugin.TestResult {
	m.mu.Lock()
	e, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return plugin.TestResult{Success: false, Message: fmt.Sprintf("plugin %s is not registered", id)}
	}
	cfg := m.configs[id].Clone()
	m.mu.Unlock()

	if e.caps.tester == nil {
		return plugin.TestResult{Success: false, Message: fmt.Sprintf("plugin %s does not support connection tests", id)}
	}

	if !cfg.Enabled {
		if err := e.plugin.Initialize(ctx, cfg); err != nil {
			return plugin.TestResult{
				Success: false,
				Message: fmt.Sprintf("plugin %s could not be initialized for testing: %v", id, err),
			}
		}
		defer func() {
			if err := e.plugin.Shutdown(ctx); err != nil {
				m.logger.Error("Shutdown after connection test failed",
					zap.String("plugin", id), zap.Error(err))
			}
		}()
	}

	return e.caps.tester.TestConnection(ctx)
}

// DeviceState returns the last-readable state of one external device, or nil
// when the plugin is unknown, disabled, incapable, or the read failed.
// Callers must treat nil as "unknown", never as "off".
func (m *Manager) DeviceState(ctx context.Context, id, externalID string) *plugin.DeviceState {
	e, registered, enabled := m.resolve(id)
	if !registered || !enabled || e.caps.reader == nil {
		return nil
	}
	return e.caps.reader.DeviceState(ctx, externalID)
}

// PollingHint returns a plugin's advertised polling interval, if the plugin
// is enabled and advertises one.
func (m *Manager) PollingHint(id string) (time.Duration, bool) {
	e, registered, enabled := m.resolve(id)
	if !registered || !enabled || e.caps.pollable == nil {
		return 0, false
	}
	return e.caps.pollable.PollingInterval(), true
}
