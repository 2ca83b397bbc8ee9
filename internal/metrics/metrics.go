// Package metrics exposes lifecycle activity as Prometheus metrics. It is
// fed entirely from the event bus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/lifecycle"
)

const namespace = "cutlet"

// Metrics owns a private Prometheus registry with the process collectors and
// the cutlet metrics.
type Metrics struct {
	registry *prometheus.Registry

	entities     *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	hookDuration *prometheus.HistogramVec
	cycles       prometheus.Counter
	failures     prometheus.Counter
	commands     *prometheus.CounterVec
}

// New creates the metrics and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		entities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "entities",
				Help:      "Number of entities per lifecycle state.",
			},
			[]string{"state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Lifecycle transitions by component type and target state.",
			},
			[]string{"type", "to"},
		),
		hookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "hook_duration_seconds",
				Help:      "Duration of component factories and hooks.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type", "hook"},
		),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "cycles_total",
			Help:      "Completed reload cycles.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "entity_failures_total",
			Help:      "Entities that failed during a reload cycle.",
		}),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "dispatched_total",
				Help:      "Dispatched commands by owner and outcome.",
			},
			[]string{"owner", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.entities, m.transitions, m.hookDuration, m.cycles, m.failures, m.commands,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Subscribe feeds the metrics from bus. Listeners run at Monitor priority
// and also see cancelled events.
func (m *Metrics) Subscribe(bus *event.Bus) []event.Subscription {
	listen := func(h event.Handler) event.Listener {
		return event.Listener{Priority: event.Monitor, ReceiveCancelled: true, Handler: h}
	}
	return []event.Subscription{
		bus.Subscribe(lifecycle.EventTransition, listen(event.Typed(m.onTransition))),
		bus.Subscribe(lifecycle.EventReloadCompleted, listen(event.Typed(m.onReload))),
		bus.Subscribe("command", listen(event.Typed(m.onCommand))),
	}
}

func (m *Metrics) onTransition(_ context.Context, ev *lifecycle.TransitionEvent) {
	if ev.From != lifecycle.Unloaded {
		m.entities.WithLabelValues(ev.From.String()).Dec()
	}
	if ev.To != lifecycle.Unloaded {
		m.entities.WithLabelValues(ev.To.String()).Inc()
	}
	m.transitions.WithLabelValues(ev.Type, ev.To.String()).Inc()
	if ev.Hook != "" {
		m.hookDuration.WithLabelValues(ev.Type, ev.Hook).Observe(ev.Elapsed.Seconds())
	}
}

func (m *Metrics) onReload(_ context.Context, ev *lifecycle.ReloadCompleted) {
	m.cycles.Inc()
	if ev.Report != nil {
		m.failures.Add(float64(len(ev.Report.Failed)))
	}
}

func (m *Metrics) onCommand(_ context.Context, ev *command.Event) {
	outcome := "dispatched"
	if ev.Cancelled() {
		outcome = "cancelled"
	}
	m.commands.WithLabelValues(ev.Invocation.Owner, outcome).Inc()
}
