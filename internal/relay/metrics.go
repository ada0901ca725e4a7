package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's prometheus instruments.
type Metrics struct {
	waitingPeers    prometheus.Gauge
	pairsTotal      prometheus.Counter
	rejectsTotal    *prometheus.CounterVec
	framesForwarded *prometheus.CounterVec
	bytesForwarded  prometheus.Counter
	forwardErrors   prometheus.Counter
}

// NewMetrics registers the relay metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers on a custom registry. Tests use this to
// avoid registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		waitingPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_waiting_peers",
			Help: "Connections waiting for their peer",
		}),
		pairsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_pairs_total",
			Help: "Total number of completed pairings",
		}),
		rejectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rejects_total",
			Help: "Connections rejected before pairing",
		}, []string{"reason"}),
		framesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_forwarded_total",
			Help: "Frames forwarded between paired peers",
		}, []string{"kind"}),
		bytesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_forwarded_total",
			Help: "Payload bytes forwarded between paired peers",
		}),
		forwardErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_forward_errors_total",
			Help: "Forwarding loops terminated by a read or write error",
		}),
	}
}
