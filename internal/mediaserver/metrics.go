package mediaserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics live in a per-server registry so several servers (and tests) can
// coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	bytesServed    *prometheus.CounterVec
	relaysReplaced prometheus.Counter
	relayFailures  prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dlnacast_media_requests_total",
			Help: "Media requests by resource and response kind",
		}, []string{"resource", "kind"}),
		bytesServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dlnacast_media_bytes_served_total",
			Help: "Body bytes written to renderers by resource",
		}, []string{"resource"}),
		relaysReplaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "dlnacast_upstream_relays_replaced_total",
			Help: "Upstream video relays closed because a newer range request arrived",
		}),
		relayFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dlnacast_upstream_relay_failures_total",
			Help: "Upstream relays that could not be opened",
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
