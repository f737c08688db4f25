// Package metric defines the Prometheus instrumentation for the server and
// client transports. A Registry owns an isolated prometheus.Registry so
// embedding applications never collide with the host process's default
// registry.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the core transport metrics.
type Metrics struct {
	// RequestsTotal counts dispatched requests by transport, method and
	// response status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes dispatch latency by transport.
	RequestDuration *prometheus.HistogramVec

	// SocketConnections tracks currently open socket connections.
	SocketConnections prometheus.Gauge

	// EnvelopesTotal counts socket envelopes by direction and type.
	EnvelopesTotal *prometheus.CounterVec

	// HeartbeatTerminations counts connections reclaimed by the heartbeat.
	HeartbeatTerminations prometheus.Counter

	// UpgradeRejections counts destroyed upgrade attempts by reason.
	UpgradeRejections *prometheus.CounterVec

	// ProtocolErrors counts malformed or unsupported inbound envelopes.
	ProtocolErrors prometheus.Counter
}

// NewMetrics builds the core metric set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockress_requests_total",
			Help: "Requests dispatched, by transport, method and status",
		}, []string{"transport", "method", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sockress_request_duration_seconds",
			Help:    "Dispatch latency by transport",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport"}),

		SocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sockress_socket_connections",
			Help: "Open socket connections",
		}),

		EnvelopesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockress_envelopes_total",
			Help: "Socket envelopes by direction and type",
		}, []string{"direction", "type"}),

		HeartbeatTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockress_heartbeat_terminations_total",
			Help: "Connections terminated for missing a heartbeat",
		}),

		UpgradeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockress_upgrade_rejections_total",
			Help: "Destroyed upgrade attempts by reason",
		}, []string{"reason"}),

		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockress_protocol_errors_total",
			Help: "Malformed or unsupported inbound envelopes",
		}),
	}
}

// Registry wires the core metrics into an isolated Prometheus registry
// alongside the Go runtime collectors.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry creates a registry with the core metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
	}

	r.prometheusRegistry.MustRegister(
		r.Metrics.RequestsTotal,
		r.Metrics.RequestDuration,
		r.Metrics.SocketConnections,
		r.Metrics.EnvelopesTotal,
		r.Metrics.HeartbeatTerminations,
		r.Metrics.UpgradeRejections,
		r.Metrics.ProtocolErrors,
	)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry for
// application-specific collectors.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}
