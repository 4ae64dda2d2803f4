package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics exposes tick-loop health to Prometheus. The same numbers back
// the JSON /perf endpoint. Collectors live on a per-server registry so
// multiple servers can coexist in one process.
type metrics struct {
	registry        *prometheus.Registry
	tickDuration    prometheus.Histogram
	physicsDuration prometheus.Histogram
	commitDuration  prometheus.Histogram
	subsGauge       prometheus.Gauge
	torpsGauge      prometheus.Gauge
	fuelersGauge    prometheus.Gauge
	queueDepth      prometheus.GaugeFunc
}

func newMetrics(hub *eventHub) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subbrawl_tick_duration_seconds",
			Help:    "Wall time of one full world tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		physicsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subbrawl_physics_duration_seconds",
			Help:    "Wall time of the physics stage within a tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subbrawl_db_commit_duration_seconds",
			Help:    "Wall time of the per-tick database commit.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		subsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subbrawl_submarines",
			Help: "Living submarines in the world.",
		}),
		torpsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subbrawl_torpedoes",
			Help: "Torpedoes in the water.",
		}),
		fuelersGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subbrawl_fuelers",
			Help: "Active surface fuelers.",
		}),
		queueDepth: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "subbrawl_event_queue_depth",
			Help: "Pending events across all subscriber queues.",
		}, func() float64 { return float64(hub.QueueDepth()) }),
	}
}

// MetricsHandler serves this server's Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
}

// PerfStats is the JSON body of /perf: last-tick stage timings in
// milliseconds plus queue and population counts.
type PerfStats struct {
	TickMS     float64 `json:"tick_ms"`
	PhysicsMS  float64 `json:"physics_ms"`
	DBFetchMS  float64 `json:"db_fetch_ms"`
	DBCommitMS float64 `json:"db_commit_ms"`
	QueueDepth int     `json:"event_queue_depth"`
	Subs       int     `json:"subs"`
	Torps      int     `json:"torps"`
	Fuelers    int     `json:"fuelers"`
	Streams    int     `json:"streams"`
}
