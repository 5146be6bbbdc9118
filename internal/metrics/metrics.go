// Package metrics declares Risotto's Prometheus counters and gauges
// (spec.md §6, "the metrics registry and HTTP server").
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BMPMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmp_messages_total",
			Help: "Total BMP messages decoded, by message type.",
		},
		[]string{"type"},
	)

	BGPUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgp_updates_total",
			Help: "Total normalized update records emitted, by kind.",
		},
		[]string{"kind"}, // announce | withdraw | synthetic
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decode_errors_total",
			Help: "Decode failures, by reason.",
		},
		[]string{"reason"},
	)

	RouterSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_sessions",
			Help: "Currently connected router sessions.",
		},
	)

	PeerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "peer_up",
			Help: "Peers currently in the UP state, by router.",
		},
		[]string{"router"},
	)

	SinkProduceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_produce_errors_total",
			Help: "Sink produce() failures, by classification.",
		},
		[]string{"class"}, // transient | fatal
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risotto_snapshot_duration_seconds",
			Help:    "Time spent serializing and writing a collector snapshot.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
	)

	SnapshotErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risotto_snapshot_errors_total",
			Help: "Snapshot write or load failures, by stage.",
		},
		[]string{"stage"}, // write | load
	)
)

// Register registers every Risotto metric with the default Prometheus
// registry. Called once at startup.
func Register() {
	prometheus.MustRegister(
		BMPMessagesTotal,
		BGPUpdatesTotal,
		DecodeErrorsTotal,
		RouterSessions,
		PeerUp,
		SinkProduceErrorsTotal,
		SnapshotDuration,
		SnapshotErrorsTotal,
	)
}
