// Package poller periodically reconciles the state of bound devices through
// the plugin manager and publishes observed changes to the panel socket. It
// honors each plugin's polling-interval hint and isolates per-device
// failures, so one unresponsive backend never stalls the loop for others.
package poller

import (
	"context"
	"sync"
	"time"

	"panelhub/internal/bindings"
	"panelhub/internal/clock"
	"panelhub/pkg/plugin"

	"go.uber.org/zap"
)

// tickPeriod is the granularity at which per-plugin due times are checked.
const tickPeriod = 2 * time.Second

// StateSource answers device-state queries and polling hints. The plugin
// manager satisfies it.
type StateSource interface {
	DeviceState(ctx context.Context, pluginID, externalID string) *plugin.DeviceState
	PollingHint(pluginID string) (time.Duration, bool)
}

// BindingSource lists the bindings to poll. The binding store satisfies it.
type BindingSource interface {
	All() []bindings.Binding
}

// Publisher receives state updates for bound devices. The panel socket hub
// satisfies it.
type Publisher interface {
	PublishDeviceState(bindingID string, state plugin.DeviceState)
}

// Poller drives the reconciliation loop.
type Poller struct {
	source    StateSource
	bindings  BindingSource
	publisher Publisher
	clock     clock.Clock
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}

	mu      sync.Mutex
	last    map[string]plugin.DeviceState
	nextDue map[string]time.Time
}

// New creates a poller. The interval is the default polling period for
// plugins that do not advertise their own hint.
func New(source StateSource, bindingSource BindingSource, publisher Publisher, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		source:    source,
		bindings:  bindingSource,
		publisher: publisher,
		clock:     clock.NewRealClock(),
		interval:  interval,
		logger:    logger.Named("poller"),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		last:      make(map[string]plugin.DeviceState),
		nextDue:   make(map[string]time.Time),
	}
}

// Start launches the polling loop in a background goroutine.
func (p *Poller) Start() {
	p.logger.Info("Starting state poller",
		zap.Duration("default_interval", p.interval))
	go p.run()
}

// Stop terminates the loop and waits for it to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	<-p.doneChan
	p.logger.Info("State poller stopped")
}

func (p *Poller) run() {
	defer close(p.doneChan)

	for {
		select {
		case <-p.stopChan:
			return
		case <-p.clock.After(tickPeriod):
		}
		p.pollDue(context.Background())
	}
}

// pollDue polls every binding whose plugin's interval has elapsed.
func (p *Poller) pollDue(ctx context.Context) {
	now := p.clock.Now()

	duePlugins := make(map[string]bool)
	for _, b := range p.bindings.All() {
		pluginID := b.PluginID

		due, checked := duePlugins[pluginID]
		if !checked {
			due = p.pluginDue(pluginID, now)
			duePlugins[pluginID] = due
		}
		if !due {
			continue
		}

		p.pollBinding(ctx, b)
	}
}

// pluginDue checks and advances a plugin's next-due time.
func (p *Poller) pluginDue(pluginID string, now time.Time) bool {
	interval := p.interval
	if hint, ok := p.source.PollingHint(pluginID); ok && hint > 0 {
		interval = hint
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if due, ok := p.nextDue[pluginID]; ok && now.Before(due) {
		return false
	}
	p.nextDue[pluginID] = now.Add(interval)
	return true
}

// pollBinding reads one device's state and publishes it when it changed
// since the previous successful read. An unknown state (nil) clears the
// cached value so the next successful read always publishes.
func (p *Poller) pollBinding(ctx context.Context, b bindings.Binding) {
	state := p.source.DeviceState(ctx, b.PluginID, b.ExternalDeviceID)
	if state == nil {
		p.mu.Lock()
		delete(p.last, b.ID)
		p.mu.Unlock()
		p.logger.Debug("Device state unknown",
			zap.String("binding", b.ID),
			zap.String("plugin", b.PluginID))
		return
	}

	p.mu.Lock()
	prev, seen := p.last[b.ID]
	changed := !seen || !equalState(prev, *state)
	if changed {
		p.last[b.ID] = *state
	}
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.Debug("Device state changed",
		zap.String("binding", b.ID),
		zap.Bool("state", state.State))
	p.publisher.PublishDeviceState(b.ID, *state)
}

func equalState(a, b plugin.DeviceState) bool {
	if a.State != b.State {
		return false
	}
	if (a.SpeedLevel == nil) != (b.SpeedLevel == nil) {
		return false
	}
	if a.SpeedLevel != nil && *a.SpeedLevel != *b.SpeedLevel {
		return false
	}
	return true
}
