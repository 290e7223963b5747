package plugin

import "fmt"

// ConfigError reports missing or invalid settings at initialize time. It is
// fatal to that initialize call and recoverable by correcting the settings
// and retrying.
type ConfigError struct {
	PluginID string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("plugin %s: invalid configuration: %s", e.PluginID, e.Reason)
}

// NewConfigError builds a ConfigError for the given plugin.
func NewConfigError(pluginID, format string, args ...any) *ConfigError {
	return &ConfigError{PluginID: pluginID, Reason: fmt.Sprintf(format, args...)}
}

// UpstreamError reports a non-2xx response or transport failure from the
// external backend. StatusCode is zero for transport-level failures.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RoutingError reports an action or query addressed to an unknown or
// disabled plugin.
type RoutingError struct {
	PluginID string
	Reason   string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.PluginID, e.Reason)
}

// PersistenceError reports a failed read or write of the on-disk
// configuration. Callers log it and continue with in-memory state.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("config persistence at %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
