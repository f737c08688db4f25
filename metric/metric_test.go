package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_CoreMetricsRegistered(t *testing.T) {
	r := NewRegistry()

	r.Metrics.RequestsTotal.WithLabelValues("http", "GET", "200").Inc()
	r.Metrics.SocketConnections.Inc()
	r.Metrics.EnvelopesTotal.WithLabelValues("in", "request").Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["sockress_requests_total"])
	assert.True(t, names["sockress_socket_connections"])
	assert.True(t, names["sockress_envelopes_total"])
	assert.True(t, names["go_goroutines"], "runtime collectors present")
}

func TestRegistry_Isolated(t *testing.T) {
	// Two registries must not collide the way default-registry users do.
	a := NewRegistry()
	b := NewRegistry()

	a.Metrics.ProtocolErrors.Inc()
	assert.NotSame(t, a.PrometheusRegistry(), b.PrometheusRegistry())
}

func TestRegistry_CustomCollector(t *testing.T) {
	r := NewRegistry()
	custom := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "app_things_total",
		Help: "test collector",
	})
	require.NoError(t, r.PrometheusRegistry().Register(custom))
	custom.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "app_things_total 1")
}
