// Package metrics records bus and command activity as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tinyland-inc/guildclaw/pkg/command"
)

// Metrics implements bus.Observer and command.Observer.
type Metrics struct {
	registry *prometheus.Registry

	published *prometheus.CounterVec
	handlers  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	commands  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New registers the series on a fresh registry, alongside the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildclaw_bus_events_published_total",
			Help: "Events published on any bus",
		}, []string{"event"}),
		handlers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildclaw_bus_handler_invocations_total",
			Help: "Handlers invoked for published events",
		}, []string{"event"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildclaw_bus_handler_failures_total",
			Help: "Event handlers that returned an error or panicked",
		}, []string{"event"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildclaw_commands_total",
			Help: "Resolved commands by outcome",
		}, []string{"group", "command", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "guildclaw_command_duration_seconds",
			Help: "Command handling time",
			// 12 buckets from 5ms to 30s.
			Buckets: prometheus.ExponentialBucketsRange(0.005, 30, 12),
		}, []string{"group", "command"}),
	}
}

// Registry is the gatherer to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) EventPublished(event string, handlers int) {
	m.published.WithLabelValues(event).Inc()
	m.handlers.WithLabelValues(event).Add(float64(handlers))
}

func (m *Metrics) HandlerFailed(event string) {
	m.failures.WithLabelValues(event).Inc()
}

func (m *Metrics) CommandHandled(group, name string, outcome command.Outcome, elapsed time.Duration) {
	m.commands.WithLabelValues(group, name, outcome.String()).Inc()
	m.latency.WithLabelValues(group, name).Observe(elapsed.Seconds())
}
