package plugin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigClone(t *testing.T) {
	original := Config{
		ID:      "homebridge",
		Name:    "Homebridge",
		Enabled: true,
		Settings: map[string]any{
			"serverUrl": "http://bridge.local:8581",
		},
	}

	clone := original.Clone()
	clone.Settings["serverUrl"] = "http://other:8581"
	clone.Enabled = false

	assert.Equal(t, "http://bridge.local:8581", original.Settings["serverUrl"])
	assert.True(t, original.Enabled)
}

func TestConfigClone_NilSettings(t *testing.T) {
	clone := Config{ID: "homebridge"}.Clone()
	assert.Nil(t, clone.Settings)
}

func TestUpstreamError_Messages(t *testing.T) {
	withBody := &UpstreamError{Op: "login", StatusCode: 403, Body: "bad credentials"}
	assert.Equal(t, "login: backend returned 403: bad credentials", withBody.Error())

	noBody := &UpstreamError{Op: "login", StatusCode: 500}
	assert.Equal(t, "login: backend returned 500", noBody.Error())

	cause := errors.New("connection refused")
	transport := &UpstreamError{Op: "login", Err: cause}
	assert.Equal(t, "login: connection refused", transport.Error())
	assert.ErrorIs(t, transport, cause)
}

func TestErrorKinds_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("failed to enable plugin homebridge: %w",
		NewConfigError("homebridge", "serverUrl is required"))

	var configErr *ConfigError
	require.ErrorAs(t, wrapped, &configErr)
	assert.Equal(t, "homebridge", configErr.PluginID)
	assert.Contains(t, configErr.Reason, "serverUrl")
}
