package manager

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values for the manager's counters.
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeRouting     = "routing_error"
	outcomeUnsupported = "unsupported"
)

// Metrics holds the manager's Prometheus counters. A fresh set is created
// per process (and per test) against an explicit registerer.
type Metrics struct {
	Actions     *prometheus.CounterVec
	Discoveries *prometheus.CounterVec
}

// NewMetrics creates and registers the manager's counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelhub_plugin_actions_total",
			Help: "Device actions routed through the plugin manager, by plugin and outcome.",
		}, []string{"plugin", "outcome"}),
		Discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelhub_plugin_discoveries_total",
			Help: "Device discovery runs, by plugin and outcome.",
		}, []string{"plugin", "outcome"}),
	}
	reg.MustRegister(m.Actions, m.Discoveries)
	return m
}
