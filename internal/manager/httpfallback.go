package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"panelhub/pkg/plugin"

	"go.uber.org/zap"
)

// executeFallback routes an action through a plugin's declarative HTTP
// config. This path only knows the boolean on/off shape: a speed level in
// the context is ignored and the action executes as plain on/off, a known
// limitation of fallback-only plugins.
func (m *Manager) executeFallback(ctx context.Context, fb plugin.HTTPFallback, action plugin.ActionContext) plugin.ActionResult {
	id := action.Binding.PluginID

	if action.SpeedLevel != nil {
		m.logger.Warn("HTTP fallback path only supports on/off, ignoring speed level",
			zap.String("plugin", id),
			zap.Int("speed_level", *action.SpeedLevel))
	}

	name := "off"
	if action.NewState {
		name = "on"
	}

	cfg := fb.HTTPConfig(action.Binding, name)
	if cfg == nil {
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("plugin %s cannot express action %q via HTTP fallback", id, name),
		}
	}

	var body io.Reader
	if cfg.Body != nil {
		data, err := json.Marshal(cfg.Body)
		if err != nil {
			return plugin.ActionResult{
				Success: false,
				Error:   fmt.Sprintf("failed to encode fallback request body: %v", err),
			}
		}
		body = bytes.NewReader(data)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("invalid fallback request: %v", err),
		}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("fallback request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return plugin.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("fallback request returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	m.logger.Debug("Fallback action executed",
		zap.String("plugin", id),
		zap.String("action", name),
		zap.String("url", cfg.URL))
	newState := action.NewState
	return plugin.ActionResult{Success: true, NewState: &newState}
}
