// Package metrics exposes the prometheus surface a shipped resolver
// core would carry: peer error/success counters, sync height gauges,
// and a NameQuery latency histogram (spec §4, supplemented features).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its own registry rather than the global DefaultRegisterer,
// so an Engine can be constructed more than once in a process (e.g. in
// tests) without a double-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	PeerErrors         prometheus.Counter
	PeerProofsOK       prometheus.Counter
	TipHeight          prometheus.Gauge
	KnownNetworkHeight prometheus.Gauge
	NameQueryDuration  prometheus.Histogram
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PeerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hnsresolver",
			Subsystem: "peer",
			Name:      "errors_total",
			Help:      "Total peer session and getproof errors recorded by PeerDirectory.",
		}),
		PeerProofsOK: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hnsresolver",
			Subsystem: "peer",
			Name:      "proofs_ok_total",
			Help:      "Total verifying proofs received across all peers.",
		}),
		TipHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hnsresolver",
			Subsystem: "chain",
			Name:      "tip_height",
			Help:      "Current in-memory chain tip height.",
		}),
		KnownNetworkHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hnsresolver",
			Subsystem: "chain",
			Name:      "known_network_height",
			Help:      "Highest height announced by any connected peer.",
		}),
		NameQueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hnsresolver",
			Subsystem: "namequery",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a NameQuery.Run call.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler exposes the registry for an operator to scrape. The
// DoH/DoT host process decides whether to mount it.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
