// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "terminald"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Terminal lifecycle
	TerminalsActive prometheus.Gauge
	TerminalsTotal  prometheus.Counter

	// Line discipline
	InputBytes   prometheus.Counter
	DroppedInput prometheus.Counter
	EchoBytes    prometheus.Counter
	OutputBytes  prometheus.Counter
	Signals      *prometheus.CounterVec

	// Slave file operations
	ReadsCompleted *prometheus.CounterVec
	ReadsQueued    prometheus.Counter
	Requests       *prometheus.CounterVec

	// Transport
	Connections *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TerminalsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminals_active",
			Help:      "Number of running terminals",
		}),
		TerminalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminals_total",
			Help:      "Total number of terminals created",
		}),

		InputBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes received from masters",
		}),
		DroppedInput: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_dropped_bytes_total",
			Help:      "Input bytes dropped because the input ring was full",
		}),
		EchoBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_bytes_total",
			Help:      "Bytes echoed back to masters",
		}),
		OutputBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written by slave processes and forwarded to masters",
		}),
		Signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals generated from terminal input",
		}, []string{"signal"}),

		ReadsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_completed_total",
			Help:      "Slave reads replied to, by status",
		}, []string{"status"}),
		ReadsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_queued_total",
			Help:      "Slave reads that had to wait for input",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Slave control requests, by request and status",
		}, []string{"request", "status"}),

		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open client connections, by role and transport",
		}, []string{"role", "transport"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TerminalStarted() {
	if m == nil {
		return
	}
	m.TerminalsActive.Inc()
	m.TerminalsTotal.Inc()
}

func (m *Metrics) TerminalExited() {
	if m == nil {
		return
	}
	m.TerminalsActive.Dec()
}

func (m *Metrics) Input(n int) {
	if m == nil {
		return
	}
	m.InputBytes.Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	if m == nil {
		return
	}
	m.DroppedInput.Add(float64(n))
}

func (m *Metrics) Echo(n int) {
	if m == nil {
		return
	}
	m.EchoBytes.Add(float64(n))
}

func (m *Metrics) Output(n int) {
	if m == nil {
		return
	}
	m.OutputBytes.Add(float64(n))
}

func (m *Metrics) Signal(name string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(name).Inc()
}

func (m *Metrics) ReadCompleted(status string) {
	if m == nil {
		return
	}
	m.ReadsCompleted.WithLabelValues(status).Inc()
}

func (m *Metrics) ReadQueued() {
	if m == nil {
		return
	}
	m.ReadsQueued.Inc()
}

func (m *Metrics) Request(request, status string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(request, status).Inc()
}

// ConnectionOpened tracks a client connection until the returned func runs.
func (m *Metrics) ConnectionOpened(role, transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.Connections.WithLabelValues(role, transport)
	g.Inc()
	return g.Dec
}
