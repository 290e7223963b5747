package homebridge

import (
	"strings"

	"panelhub/pkg/plugin"
)

// HomeKit characteristic type tags the plugin knows how to read and write.
const (
	charOn            = "On"
	charBrightness    = "Brightness"
	charRotationSpeed = "RotationSpeed"
)

// mapDeviceType maps a Homebridge service type onto one of the panel's
// device types by case-insensitive substring match, in priority order.
// Unrecognized service types report false and the accessory is dropped.
func mapDeviceType(serviceType string) (plugin.DeviceType, bool) {
	t := strings.ToLower(serviceType)
	switch {
	case strings.Contains(t, "light"):
		return plugin.DeviceLight, true
	case strings.Contains(t, "switch"):
		return plugin.DeviceSwitch, true
	case strings.Contains(t, "fan"):
		return plugin.DeviceFan, true
	case strings.Contains(t, "outlet"):
		return plugin.DeviceOutlet, true
	}
	return "", false
}

// deriveCapabilities scans an accessory's characteristics. The second return
// is false when the accessory lacks a writable On characteristic, in which
// case the device is not controllable and must be excluded from discovery.
func deriveCapabilities(chars []characteristic) (plugin.Capabilities, bool) {
	var caps plugin.Capabilities
	for _, c := range chars {
		if !c.CanWrite {
			continue
		}
		switch c.Type {
		case charOn:
			caps.On = true
		case charBrightness:
			caps.Brightness = true
		case charRotationSpeed:
			caps.Speed = true
		}
	}
	return caps, caps.On
}

// coerceBool decodes the truthy encodings the bridge emits for boolean
// characteristics: 1, true, "1" and "true". Everything else is false.
func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val == 1
	case int:
		return val == 1
	case string:
		return val == "1" || val == "true"
	}
	return false
}

// coerceInt decodes a numeric characteristic value. The second return is
// false when the value is not numeric.
func coerceInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	}
	return 0, false
}
