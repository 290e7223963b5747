package plugin

// Config is the persisted per-plugin configuration record. The id is
// immutable once created and always matches the plugin's ID. Settings are
// opaque to the manager; only the owning plugin interprets them.
type Config struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Enabled  bool           `json:"enabled"`
	Settings map[string]any `json:"settings"`
}

// Clone returns a deep-enough copy of the config: the settings map is copied
// so callers can mutate the clone without affecting the original. Values
// inside the map are shared.
func (c Config) Clone() Config {
	out := c
	if c.Settings != nil {
		out.Settings = make(map[string]any, len(c.Settings))
		for k, v := range c.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

// DeviceType classifies a discovered device into one of the shapes the panel
// knows how to render and control.
type DeviceType string

const (
	DeviceLight  DeviceType = "light"
	DeviceSwitch DeviceType = "switch"
	DeviceFan    DeviceType = "fan"
	DeviceOutlet DeviceType = "outlet"
)

// Capabilities flags the controllable functions a discovered device exposes.
type Capabilities struct {
	On         bool `json:"on"`
	Brightness bool `json:"brightness"`
	Speed      bool `json:"speed"`
}

// ImportableDevice is a normalized external device produced by discovery.
// ID is the backend's unique identifier and is stable across polls. Metadata
// preserves backend-specific identifiers needed later for action execution;
// the manager never interprets it.
type ImportableDevice struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         DeviceType     `json:"type"`
	Room         string         `json:"room,omitempty"`
	Capabilities Capabilities   `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DeviceBinding associates an internal panel control with an external device:
// which plugin owns it, the backend's device id, and whatever metadata the
// plugin stashed at discovery time.
type DeviceBinding struct {
	PluginID         string         `json:"pluginId"`
	ExternalDeviceID string         `json:"externalDeviceId"`
	DeviceType       DeviceType     `json:"deviceType"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ActionContext carries one requested device action through the manager to a
// plugin. NewState is the desired on/off state; SpeedLevel, when set,
// requests a fan speed instead.
type ActionContext struct {
	Binding    DeviceBinding `json:"binding"`
	NewState   bool          `json:"newState"`
	SpeedLevel *int          `json:"speedLevel,omitempty"`
}

// ActionResult reports the outcome of an action. Backend failures land in
// Error; Success is false for every failure, routing or upstream.
type ActionResult struct {
	Success  bool   `json:"success"`
	NewState *bool  `json:"newState,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DeviceState is a point-in-time read-back of a device. SpeedLevel is only
// present when the device reports a speed characteristic. Callers receive a
// nil *DeviceState when the state could not be determined.
type DeviceState struct {
	State      bool `json:"state"`
	SpeedLevel *int `json:"speedLevel,omitempty"`
}

// TestResult is the outcome of a connectivity test. Message is always a
// human-readable explanation, for success and failure alike.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HTTPActionConfig is a declarative HTTP request description returned by the
// HTTPFallback capability. Body may be nil for body-less methods.
type HTTPActionConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}
