package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"panelhub/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "plugins.json"), zap.NewNop())

	configs, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	store := NewStore(path, zap.NewNop())

	configs := map[string]plugin.Config{
		"homebridge": {
			ID:      "homebridge",
			Name:    "Homebridge",
			Enabled: true,
			Settings: map[string]any{
				"serverUrl": "http://bridge.local:8581",
				"username":  "admin",
			},
		},
		"relay": {ID: "relay", Name: "Relay", Enabled: false, Settings: map[string]any{}},
	}
	require.NoError(t, store.Save(configs))

	loaded, err := NewStore(path, zap.NewNop()).Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "http://bridge.local:8581", loaded["homebridge"].Settings["serverUrl"])
	assert.True(t, loaded["homebridge"].Enabled)
	assert.False(t, loaded["relay"].Enabled)
}

func TestSave_RewritesWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	store := NewStore(path, zap.NewNop())

	require.NoError(t, store.Save(map[string]plugin.Config{
		"a": {ID: "a"}, "b": {ID: "b"},
	}))
	require.NoError(t, store.Save(map[string]plugin.Config{
		"a": {ID: "a"},
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.NotContains(t, loaded, "b")
}

func TestLoad_RepairsDriftedID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	content := `{"homebridge": {"id": "renamed", "name": "HB", "enabled": false}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loaded, err := NewStore(path, zap.NewNop()).Load()
	require.NoError(t, err)
	assert.Equal(t, "homebridge", loaded["homebridge"].ID)
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStore(path, zap.NewNop()).Load()
	require.Error(t, err)

	var persistErr *plugin.PersistenceError
	assert.ErrorAs(t, err, &persistErr)
}
