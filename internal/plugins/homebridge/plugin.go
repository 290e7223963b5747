// Package homebridge implements the device-provider contract against a
// Homebridge instance's UI REST API. It is the reference integration: it
// realizes every optional capability of the contract, with a lazily
// authenticated bearer-token session shared across calls.
package homebridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"panelhub/internal/clock"
	"panelhub/pkg/plugin"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	pluginID          = "homebridge"
	defaultPollPeriod = 60 * time.Second
	requestTimeout    = 15 * time.Second
)

// Settings keys the plugin reads from its persisted configuration.
const (
	settingServerURL    = "serverUrl"
	settingUsername     = "username"
	settingPassword     = "password"
	settingPollInterval = "pollingIntervalSeconds"
)

// Plugin bridges a Homebridge instance. One instance serves one bridge; the
// session cache (token and expiry) is private mutable state reset by every
// Initialize and Shutdown.
type Plugin struct {
	logger     *zap.Logger
	httpClient *http.Client
	clock      clock.Clock

	mu          sync.Mutex
	initialized bool
	baseURL     string
	username    string
	password    string
	pollPeriod  time.Duration
	token       string
	tokenExpiry time.Time

	loginGroup singleflight.Group
}

// New creates an uninitialized Homebridge plugin.
func New(logger *zap.Logger) *Plugin {
	return &Plugin{
		logger:     logger.Named("homebridge"),
		httpClient: &http.Client{Timeout: requestTimeout},
		clock:      clock.NewRealClock(),
		pollPeriod: defaultPollPeriod,
	}
}

func (p *Plugin) ID() string   { return pluginID }
func (p *Plugin) Name() string { return "Homebridge" }

func (p *Plugin) Description() string {
	return "Controls HomeKit devices exposed by a Homebridge instance"
}

func (p *Plugin) Type() plugin.Type { return plugin.TypeDeviceProvider }

// PollingInterval suggests how often a poller should refresh device state.
func (p *Plugin) PollingInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollPeriod
}

// Initialize validates the server URL and credentials and clears any session
// left over from a previous life. It does not authenticate eagerly; the
// first backend call acquires a token.
func (p *Plugin) Initialize(ctx context.Context, cfg plugin.Config) error {
	serverURL := strings.TrimRight(stringSetting(cfg.Settings, settingServerURL), "/")
	username := stringSetting(cfg.Settings, settingUsername)
	password := stringSetting(cfg.Settings, settingPassword)

	if serverURL == "" {
		return plugin.NewConfigError(pluginID, "%s is required", settingServerURL)
	}
	if u, err := url.Parse(serverURL); err != nil || u.Scheme == "" || u.Host == "" {
		return plugin.NewConfigError(pluginID, "%s is not a valid URL: %q", settingServerURL, serverURL)
	}
	if username == "" || password == "" {
		return plugin.NewConfigError(pluginID, "%s and %s are required", settingUsername, settingPassword)
	}

	pollPeriod := defaultPollPeriod
	if secs, ok := numberSetting(cfg.Settings, settingPollInterval); ok && secs > 0 {
		pollPeriod = time.Duration(secs) * time.Second
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseURL = serverURL
	p.username = username
	p.password = password
	p.pollPeriod = pollPeriod
	p.token = ""
	p.tokenExpiry = time.Time{}
	p.initialized = true

	p.logger.Info("Homebridge plugin initialized",
		zap.String("server_url", serverURL),
		zap.Duration("poll_period", pollPeriod))
	return nil
}

// Shutdown clears the cached session. Safe to call repeatedly and before a
// successful Initialize.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.tokenExpiry = time.Time{}
	p.initialized = false
	p.logger.Info("Homebridge plugin shut down")
	return nil
}

// DiscoverDevices fetches the accessory list and enriches it with the room
// layout. The layout fetch is best-effort: when it fails, discovery proceeds
// with rooms left empty. Accessories without a recognized type or without a
// writable On characteristic are dropped.
func (p *Plugin) DiscoverDevices(ctx context.Context) ([]plugin.ImportableDevice, error) {
	status, body, err := p.doAuthed(ctx, "discover", http.MethodGet, "/api/accessories", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &plugin.UpstreamError{Op: "discover", StatusCode: status, Body: string(body)}
	}

	var accessories []accessory
	if err := decodeJSON(body, &accessories); err != nil {
		return nil, &plugin.UpstreamError{Op: "discover", Err: err}
	}

	roomByDevice := p.fetchRoomLayout(ctx)

	devices := make([]plugin.ImportableDevice, 0, len(accessories))
	for _, acc := range accessories {
		devType, ok := mapDeviceType(acc.ServiceType)
		if !ok {
			continue
		}
		caps, controllable := deriveCapabilities(acc.ServiceCharacteristics)
		if !controllable {
			continue
		}

		devices = append(devices, plugin.ImportableDevice{
			ID:           acc.UniqueID,
			Name:         acc.ServiceName,
			Type:         devType,
			Room:         roomByDevice[acc.UniqueID],
			Capabilities: caps,
			Metadata: map[string]any{
				"uniqueId":    acc.UniqueID,
				"aid":         acc.AID,
				"iid":         acc.IID,
				"uuid":        acc.UUID,
				"serviceType": acc.ServiceType,
			},
		})
	}

	p.logger.Info("Discovery completed",
		zap.Int("accessories", len(accessories)),
		zap.Int("importable", len(devices)))
	return devices, nil
}

// fetchRoomLayout maps accessory unique ids to room names. Any failure is
// non-fatal and yields an empty mapping.
func (p *Plugin) fetchRoomLayout(ctx context.Context) map[string]string {
	rooms := make(map[string]string)

	status, body, err := p.doAuthed(ctx, "layout", http.MethodGet, "/api/accessories/layout", nil)
	if err != nil || status < 200 || status >= 300 {
		p.logger.Warn("Room layout unavailable, discovering without rooms",
			zap.Int("status", status), zap.Error(err))
		return rooms
	}

	var layout layoutResponse
	if err := decodeJSON(body, &layout); err != nil {
		p.logger.Warn("Failed to parse room layout", zap.Error(err))
		return rooms
	}

	for _, room := range layout.Rooms {
		for _, svc := range room.Services {
			rooms[svc.UniqueID] = room.Name
		}
	}
	return rooms
}

// ExecuteAction writes one characteristic: RotationSpeed when the context
// carries a speed level for a fan, the On characteristic otherwise. Backend
// failures are reported in the result, never returned as faults.
func (p *Plugin) ExecuteAction(ctx context.Context, action plugin.ActionContext) plugin.ActionResult {
	char := charOn
	var value any
	if action.NewState {
		value = 1
	} else {
		value = 0
	}
	if action.SpeedLevel != nil && action.Binding.DeviceType == plugin.DeviceFan {
		char = charRotationSpeed
		value = *action.SpeedLevel
	}

	path := "/api/accessories/" + url.PathEscape(action.Binding.ExternalDeviceID)
	status, body, err := p.doAuthed(ctx, "action", http.MethodPut, path,
		setCharacteristicRequest{CharacteristicType: char, Value: value})
	if err != nil {
		return plugin.ActionResult{Success: false, Error: err.Error()}
	}
	if status < 200 || status >= 300 {
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("bridge rejected %s update with status %d: %s", char, status, body),
		}
	}

	p.logger.Debug("Action executed",
		zap.String("device", action.Binding.ExternalDeviceID),
		zap.String("characteristic", char),
		zap.Any("value", value))
	newState := action.NewState
	return plugin.ActionResult{Success: true, NewState: &newState}
}

// DeviceState reads back the On and RotationSpeed characteristics of one
// accessory. Any failure returns nil, meaning "unknown".
func (p *Plugin) DeviceState(ctx context.Context, externalID string) *plugin.DeviceState {
	path := "/api/accessories/" + url.PathEscape(externalID)
	status, body, err := p.doAuthed(ctx, "state", http.MethodGet, path, nil)
	if err != nil || status < 200 || status >= 300 {
		p.logger.Debug("Device state unavailable",
			zap.String("device", externalID),
			zap.Int("status", status), zap.Error(err))
		return nil
	}

	var acc accessory
	if err := decodeJSON(body, &acc); err != nil {
		p.logger.Debug("Failed to parse accessory state",
			zap.String("device", externalID), zap.Error(err))
		return nil
	}

	state := &plugin.DeviceState{}
	for _, c := range acc.ServiceCharacteristics {
		switch c.Type {
		case charOn:
			state.State = coerceBool(c.Value)
		case charRotationSpeed:
			if speed, ok := coerceInt(c.Value); ok {
				state.SpeedLevel = &speed
			}
		}
	}
	return state
}

// TestConnection authenticates and performs one listing call. The outcome is
// always reported in the result.
func (p *Plugin) TestConnection(ctx context.Context) plugin.TestResult {
	status, body, err := p.doAuthed(ctx, "test", http.MethodGet, "/api/accessories", nil)
	if err != nil {
		return plugin.TestResult{Success: false, Message: fmt.Sprintf("connection failed: %v", err)}
	}
	if status < 200 || status >= 300 {
		return plugin.TestResult{
			Success: false,
			Message: fmt.Sprintf("bridge returned status %d: %s", status, body),
		}
	}

	var accessories []accessory
	if err := decodeJSON(body, &accessories); err != nil {
		return plugin.TestResult{Success: false, Message: fmt.Sprintf("unexpected accessory payload: %v", err)}
	}

	p.mu.Lock()
	baseURL := p.baseURL
	p.mu.Unlock()
	return plugin.TestResult{
		Success: true,
		Message: fmt.Sprintf("connected to %s, %d accessories visible", baseURL, len(accessories)),
	}
}

// HTTPConfig describes the on/off mutation declaratively so the manager's
// generic HTTP path could execute it. It requires a live cached session:
// without one there is no bearer token to embed, and nil is returned.
func (p *Plugin) HTTPConfig(binding plugin.DeviceBinding, actionName string) *plugin.HTTPActionConfig {
	value := 0
	if actionName == "on" {
		value = 1
	} else if actionName != "off" {
		return nil
	}

	token, ok := p.cachedToken()
	if !ok {
		return nil
	}

	p.mu.Lock()
	baseURL := p.baseURL
	p.mu.Unlock()

	return &plugin.HTTPActionConfig{
		URL:    baseURL + "/api/accessories/" + url.PathEscape(binding.ExternalDeviceID),
		Method: http.MethodPut,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json",
		},
		Body: setCharacteristicRequest{CharacteristicType: charOn, Value: value},
	}
}

func stringSetting(settings map[string]any, key string) string {
	if settings == nil {
		return ""
	}
	if s, ok := settings[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func numberSetting(settings map[string]any, key string) (int, bool) {
	if settings == nil {
		return 0, false
	}
	switch v := settings[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
