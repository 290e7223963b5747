// Package plugin defines the device-provider plugin contract for the panel
// hub. A plugin bridges one external smart-home backend (e.g. a Homebridge
// instance) into the hub's internal device model. Beyond the mandatory
// lifecycle methods, capabilities are optional: the manager probes each
// instance with type assertions at registration time and records which of the
// capability interfaces below it satisfies.
package plugin

import (
	"context"
	"time"
)

// Type identifies the kind of integration a plugin provides.
// Only device providers are modeled today.
type Type string

// TypeDeviceProvider marks plugins that expose controllable devices.
const TypeDeviceProvider Type = "device-provider"

// Plugin is the mandatory part of the contract. Every integration must
// implement it; everything else is optional.
type Plugin interface {
	// ID returns the globally unique, stable identifier for this plugin.
	// It doubles as the key for its persisted configuration.
	ID() string

	// Name returns a human-readable display name.
	Name() string

	// Description returns a short human-readable description.
	Description() string

	// Type returns the plugin's declared integration type.
	Type() Type

	// Initialize prepares the plugin with the given configuration.
	// It returns a ConfigError when required settings are missing or
	// invalid. It must clear any session state left over from a previous
	// life and must be safe to call again after Shutdown.
	Initialize(ctx context.Context, cfg Config) error

	// Shutdown releases all cached session state. It must be safe to call
	// even if Initialize never succeeded, and safe to call repeatedly.
	Shutdown(ctx context.Context) error
}

// Pollable is an optional interface for plugins that suggest how often an
// external poller should refresh device state. The hint is advisory; the
// manager does not enforce it.
type Pollable interface {
	PollingInterval() time.Duration
}

// DeviceProvider is implemented by plugins that can enumerate the devices of
// their backend. Each call produces a fresh snapshot; the plugin never serves
// cached results.
type DeviceProvider interface {
	// DiscoverDevices lists the backend's controllable devices. It returns
	// an UpstreamError on transport or authentication failure.
	DiscoverDevices(ctx context.Context) ([]ImportableDevice, error)
}

// ActionExecutor is implemented by plugins that can translate and execute a
// device action themselves. Backend failures are reported in the result,
// never as an error value.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, action ActionContext) ActionResult
}

// ConnectionTester is implemented by plugins that support a connectivity
// check. All failures are reported in the result, never as an error value.
type ConnectionTester interface {
	TestConnection(ctx context.Context) TestResult
}

// StateReader is implemented by plugins that can read back the current state
// of a single device. A nil result means "could not determine", not "off";
// the method never returns an error.
type StateReader interface {
	DeviceState(ctx context.Context, externalID string) *DeviceState
}

// HTTPFallback is a declarative escape hatch for plugins that cannot
// implement ExecuteAction themselves. The plugin describes the HTTP request
// for a boolean action and the manager performs it. A nil result means the
// plugin cannot express the given action declaratively.
type HTTPFallback interface {
	HTTPConfig(binding DeviceBinding, action string) *HTTPActionConfig
}
