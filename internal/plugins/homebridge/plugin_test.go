package homebridge

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"panelhub/pkg/plugin"
	"panelhub/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSettings(bridge *testutil.MockBridge) map[string]any {
	return map[string]any{
		settingServerURL: bridge.URL(),
		settingUsername:  "admin",
		settingPassword:  "secret",
	}
}

func newTestPlugin(t *testing.T, bridge *testutil.MockBridge) *Plugin {
	t.Helper()

	p := New(zap.NewNop())
	err := p.Initialize(context.Background(), plugin.Config{
		ID:       pluginID,
		Name:     "Homebridge",
		Enabled:  true,
		Settings: testSettings(bridge),
	})
	require.NoError(t, err)
	return p
}

func lightAccessory(id, name string) testutil.Accessory {
	return testutil.Accessory{
		UniqueID:    id,
		AID:         1,
		IID:         2,
		UUID:        "uuid-" + id,
		Type:        "Lightbulb",
		HumanType:   "Light Bulb",
		ServiceName: name,
		ServiceCharacteristics: []testutil.Characteristic{
			{Type: "On", Value: float64(0), CanWrite: true},
			{Type: "Brightness", Value: float64(50), CanWrite: true},
		},
	}
}

func TestInitialize_Validation(t *testing.T) {
	p := New(zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"nil settings", nil},
		{"missing server url", map[string]any{
			settingUsername: "a", settingPassword: "b",
		}},
		{"invalid server url", map[string]any{
			settingServerURL: "not a url",
			settingUsername:  "a", settingPassword: "b",
		}},
		{"missing credentials", map[string]any{
			settingServerURL: "http://bridge.local:8581",
		}},
		{"blank password", map[string]any{
			settingServerURL: "http://bridge.local:8581",
			settingUsername:  "a", settingPassword: "   ",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Initialize(ctx, plugin.Config{ID: pluginID, Settings: tt.settings})
			require.Error(t, err)

			var configErr *plugin.ConfigError
			assert.True(t, errors.As(err, &configErr))
		})
	}
}

func TestInitialize_ClearsPreviousSession(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)

	// Acquire a session, then reinitialize; the next call must log in again.
	_, err := p.DiscoverDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bridge.LoginCount())

	require.NoError(t, p.Initialize(context.Background(), plugin.Config{
		ID:       pluginID,
		Settings: testSettings(bridge),
	}))

	_, err = p.DiscoverDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, bridge.LoginCount())
}

func TestShutdown_Idempotent(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)
	ctx := context.Background()

	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx))

	_, ok := p.cachedToken()
	assert.False(t, ok)
}

func TestShutdown_BeforeInitialize(t *testing.T) {
	p := New(zap.NewNop())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDiscoverDevices(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	bridge.Accessories = []testutil.Accessory{
		lightAccessory("light-1", "Ceiling Light"),
		{
			UniqueID:    "fan-1",
			Type:        "Fanv2",
			ServiceName: "Bedroom Fan",
			ServiceCharacteristics: []testutil.Characteristic{
				{Type: "On", Value: float64(1), CanWrite: true},
				{Type: "RotationSpeed", Value: float64(25), CanWrite: true},
			},
		},
		{
			// Read-only On: type maps but the device is not controllable.
			UniqueID:    "sensor-switch",
			Type:        "Switch",
			ServiceName: "Contact Switch",
			ServiceCharacteristics: []testutil.Characteristic{
				{Type: "On", Value: float64(0), CanWrite: false},
			},
		},
		{
			UniqueID:    "thermo-1",
			Type:        "Thermostat",
			ServiceName: "Hallway Thermostat",
			ServiceCharacteristics: []testutil.Characteristic{
				{Type: "On", Value: float64(1), CanWrite: true},
			},
		},
	}
	bridge.Rooms = []testutil.Room{
		{Name: "Living Room", Services: []testutil.RoomService{{UniqueID: "light-1"}}},
		{Name: "Bedroom", Services: []testutil.RoomService{{UniqueID: "fan-1"}}},
	}

	p := newTestPlugin(t, bridge)
	devices, err := p.DiscoverDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	light := devices[0]
	assert.Equal(t, "light-1", light.ID)
	assert.Equal(t, "Ceiling Light", light.Name)
	assert.Equal(t, plugin.DeviceLight, light.Type)
	assert.Equal(t, "Living Room", light.Room)
	assert.True(t, light.Capabilities.On)
	assert.True(t, light.Capabilities.Brightness)
	assert.False(t, light.Capabilities.Speed)
	assert.Equal(t, "light-1", light.Metadata["uniqueId"])

	fan := devices[1]
	assert.Equal(t, plugin.DeviceFan, fan.Type)
	assert.Equal(t, "Bedroom", fan.Room)
	assert.True(t, fan.Capabilities.Speed)
}

func TestDiscoverDevices_LayoutFailureIsNonFatal(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	bridge.Accessories = []testutil.Accessory{lightAccessory("light-1", "Ceiling Light")}
	bridge.LayoutStatus = http.StatusInternalServerError

	p := newTestPlugin(t, bridge)
	devices, err := p.DiscoverDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Empty(t, devices[0].Room)
}

func TestDiscoverDevices_UpstreamFailure(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	bridge.AccessoriesStatus = http.StatusBadGateway

	p := newTestPlugin(t, bridge)
	_, err := p.DiscoverDevices(context.Background())
	require.Error(t, err)

	var upstreamErr *plugin.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusBadGateway, upstreamErr.StatusCode)
}

func TestExecuteAction_OnOff(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)
	binding := plugin.DeviceBinding{
		PluginID:         pluginID,
		ExternalDeviceID: "light-1",
		DeviceType:       plugin.DeviceLight,
	}

	result := p.ExecuteAction(context.Background(), plugin.ActionContext{
		Binding:  binding,
		NewState: true,
	})
	require.True(t, result.Success)
	require.NotNil(t, result.NewState)
	assert.True(t, *result.NewState)

	result = p.ExecuteAction(context.Background(), plugin.ActionContext{
		Binding:  binding,
		NewState: false,
	})
	require.True(t, result.Success)

	calls := bridge.SetCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "On", calls[0].CharacteristicType)
	assert.Equal(t, float64(1), calls[0].Value)
	assert.Equal(t, "On", calls[1].CharacteristicType)
	assert.Equal(t, float64(0), calls[1].Value)
}

func TestExecuteAction_FanSpeed(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)
	speed := 42

	result := p.ExecuteAction(context.Background(), plugin.ActionContext{
		Binding: plugin.DeviceBinding{
			PluginID:         pluginID,
			ExternalDeviceID: "fan-1",
			DeviceType:       plugin.DeviceFan,
		},
		NewState:   true,
		SpeedLevel: &speed,
	})
	require.True(t, result.Success)

	calls := bridge.SetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "RotationSpeed", calls[0].CharacteristicType)
	assert.Equal(t, float64(42), calls[0].Value)
}

func TestExecuteAction_SpeedOnNonFanTargetsOn(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)
	speed := 42

	result := p.ExecuteAction(context.Background(), plugin.ActionContext{
		Binding: plugin.DeviceBinding{
			PluginID:         pluginID,
			ExternalDeviceID: "light-1",
			DeviceType:       plugin.DeviceLight,
		},
		NewState:   true,
		SpeedLevel: &speed,
	})
	require.True(t, result.Success)

	calls := bridge.SetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "On", calls[0].CharacteristicType)
}

func TestExecuteAction_BackendFailureIsResult(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()
	p := newTestPlugin(t, bridge)

	// Kill the server so the request fails at transport level.
	bridge.Close()

	result := p.ExecuteAction(context.Background(), plugin.ActionContext{
		Binding: plugin.DeviceBinding{
			PluginID:         pluginID,
			ExternalDeviceID: "light-1",
			DeviceType:       plugin.DeviceLight,
		},
		NewState: true,
	})
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestDeviceState(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	bridge.Accessories = []testutil.Accessory{
		{
			UniqueID: "fan-1",
			Type:     "Fan",
			ServiceCharacteristics: []testutil.Characteristic{
				{Type: "On", Value: "true", CanWrite: true},
				{Type: "RotationSpeed", Value: float64(75), CanWrite: true},
			},
		},
		{
			UniqueID: "light-1",
			Type:     "Lightbulb",
			ServiceCharacteristics: []testutil.Characteristic{
				{Type: "On", Value: float64(0), CanWrite: true},
			},
		},
	}

	p := newTestPlugin(t, bridge)

	state := p.DeviceState(context.Background(), "fan-1")
	require.NotNil(t, state)
	assert.True(t, state.State)
	require.NotNil(t, state.SpeedLevel)
	assert.Equal(t, 75, *state.SpeedLevel)

	state = p.DeviceState(context.Background(), "light-1")
	require.NotNil(t, state)
	assert.False(t, state.State)
	assert.Nil(t, state.SpeedLevel)
}

func TestDeviceState_FailureReturnsNil(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)
	assert.Nil(t, p.DeviceState(context.Background(), "missing-device"))
}

func TestTestConnection(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	bridge.Accessories = []testutil.Accessory{lightAccessory("light-1", "Ceiling Light")}

	p := newTestPlugin(t, bridge)
	result := p.TestConnection(context.Background())
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "1 accessories")
}

func TestTestConnection_BadCredentials(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := New(zap.NewNop())
	require.NoError(t, p.Initialize(context.Background(), plugin.Config{
		ID: pluginID,
		Settings: map[string]any{
			settingServerURL: bridge.URL(),
			settingUsername:  "admin",
			settingPassword:  "wrong",
		},
	}))

	result := p.TestConnection(context.Background())
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
}

func TestHTTPConfig(t *testing.T) {
	bridge := testutil.NewMockBridge("admin", "secret")
	defer bridge.Close()

	p := newTestPlugin(t, bridge)
	binding := plugin.DeviceBinding{
		PluginID:         pluginID,
		ExternalDeviceID: "light-1",
		DeviceType:       plugin.DeviceLight,
	}

	// Without a cached session the declarative config is unavailable.
	assert.Nil(t, p.HTTPConfig(binding, "on"))

	_, err := p.DiscoverDevices(context.Background())
	require.NoError(t, err)

	cfg := p.HTTPConfig(binding, "on")
	require.NotNil(t, cfg)
	assert.Equal(t, http.MethodPut, cfg.Method)
	assert.Contains(t, cfg.URL, "/api/accessories/light-1")
	assert.Equal(t, "Bearer mock-token", cfg.Headers["Authorization"])

	assert.Nil(t, p.HTTPConfig(binding, "set-speed"))
}
