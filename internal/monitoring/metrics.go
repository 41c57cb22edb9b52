// Package monitoring exposes pipeline health as Prometheus metrics on
// /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the analysis pipeline.
type Metrics struct {
	PacketsCaptured prometheus.Counter
	PacketsDropped  prometheus.Counter
	FlowsProcessed  prometheus.Counter
	EventsPublished prometheus.Counter

	AlertsTotal *prometheus.CounterVec
	BlocksTotal *prometheus.CounterVec
	ProbesTotal *prometheus.CounterVec

	QueueDepth prometheus.Gauge
	WSClients  prometheus.Gauge
	GraphNodes prometheus.Gauge
	GraphEdges prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_packets_captured_total",
			Help: "Packets pulled off the capture interface",
		}),
		PacketsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_packets_dropped_total",
			Help: "Packets shed because the capture queue was full",
		}),
		FlowsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_flows_processed_total",
			Help: "Flow events produced by the DPI worker",
		}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_published_total",
			Help: "Flow events published to the bus",
		}),

		AlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alerts_total",
			Help: "Alerts emitted by the pipeline",
		}, []string{"severity"}),
		BlocksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_blocks_total",
			Help: "Quarantine actions by outcome",
		}, []string{"outcome"}), // blocked, rejected
		ProbesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_probes_total",
			Help: "Active probes by outcome",
		}, []string{"outcome"}), // confirmed, unconfirmed, skipped

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_capture_queue_depth",
			Help: "Current depth of the capture-to-DPI queue",
		}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
		GraphNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_graph_nodes",
			Help: "Nodes in the topology store",
		}),
		GraphEdges: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_graph_edges",
			Help: "Edges in the topology store",
		}),
	}
}

// RecordAlert counts one emitted alert by severity.
func (m *Metrics) RecordAlert(severity string) {
	m.AlertsTotal.WithLabelValues(severity).Inc()
}

// RecordBlock counts one quarantine attempt.
func (m *Metrics) RecordBlock(blocked bool) {
	outcome := "rejected"
	if blocked {
		outcome = "blocked"
	}
	m.BlocksTotal.WithLabelValues(outcome).Inc()
}

// RecordProbe counts one probe attempt.
func (m *Metrics) RecordProbe(skipped, confirmed bool) {
	outcome := "unconfirmed"
	switch {
	case skipped:
		outcome = "skipped"
	case confirmed:
		outcome = "confirmed"
	}
	m.ProbesTotal.WithLabelValues(outcome).Inc()
}
