package homebridge

import (
	"testing"

	"panelhub/pkg/plugin"

	"github.com/stretchr/testify/assert"
)

func TestMapDeviceType(t *testing.T) {
	tests := []struct {
		serviceType string
		want        plugin.DeviceType
		ok          bool
	}{
		{"Lightbulb", plugin.DeviceLight, true},
		{"lightbulb", plugin.DeviceLight, true},
		{"Light Bulb", plugin.DeviceLight, true},
		{"Switch", plugin.DeviceSwitch, true},
		{"StatelessProgrammableSwitch", plugin.DeviceSwitch, true},
		{"Fan", plugin.DeviceFan, true},
		{"Fanv2", plugin.DeviceFan, true},
		{"Outlet", plugin.DeviceOutlet, true},
		{"TemperatureSensor", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.serviceType, func(t *testing.T) {
			got, ok := mapDeviceType(tt.serviceType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveCapabilities(t *testing.T) {
	t.Run("writable on with extras", func(t *testing.T) {
		caps, controllable := deriveCapabilities([]characteristic{
			{Type: charOn, CanWrite: true},
			{Type: charBrightness, CanWrite: true},
			{Type: charRotationSpeed, CanWrite: true},
		})
		assert.True(t, controllable)
		assert.True(t, caps.On)
		assert.True(t, caps.Brightness)
		assert.True(t, caps.Speed)
	})

	t.Run("read-only on is not controllable", func(t *testing.T) {
		_, controllable := deriveCapabilities([]characteristic{
			{Type: charOn, CanWrite: false},
			{Type: charBrightness, CanWrite: true},
		})
		assert.False(t, controllable)
	})

	t.Run("no on characteristic", func(t *testing.T) {
		_, controllable := deriveCapabilities([]characteristic{
			{Type: charBrightness, CanWrite: true},
		})
		assert.False(t, controllable)
	})

	t.Run("read-only extras are ignored", func(t *testing.T) {
		caps, controllable := deriveCapabilities([]characteristic{
			{Type: charOn, CanWrite: true},
			{Type: charRotationSpeed, CanWrite: false},
		})
		assert.True(t, controllable)
		assert.False(t, caps.Speed)
	})
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"float 1", float64(1), true},
		{"int 1", 1, true},
		{"bool true", true, true},
		{"string 1", "1", true},
		{"string true", "true", true},
		{"float 0", float64(0), false},
		{"bool false", false, false},
		{"string 0", "0", false},
		{"string false", "false", false},
		{"string junk", "yes", false},
		{"nil", nil, false},
		{"float 2", float64(2), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceBool(tt.value))
		})
	}
}

func TestCoerceInt(t *testing.T) {
	v, ok := coerceInt(float64(42))
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = coerceInt("42")
	assert.False(t, ok)

	_, ok = coerceInt(nil)
	assert.False(t, ok)
}
