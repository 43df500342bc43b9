// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the offload engine's counters and gauges as a
// Prometheus collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus metric the offload engine emits.
type Metrics struct {
	FlowsProgrammed   *prometheus.CounterVec
	FlowsFailed       *prometheus.CounterVec
	FlowsRolledBack   prometheus.Counter
	ComposedAnomalies prometheus.Counter

	QueueDepth    prometheus.Gauge
	QueueAccepted prometheus.Counter
	QueueCoalesced prometheus.Counter

	FlowPackets prometheus.Counter
	FlowBytes   prometheus.Counter
}

// NewMetrics builds a fresh Metrics instance, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		FlowsProgrammed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowoffload_flows_programmed_total",
			Help: "Total number of flows successfully programmed into hardware, by resulting status.",
		}, []string{"status"}),

		FlowsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowoffload_flows_failed_total",
			Help: "Total number of flow programming attempts that failed, by dispatch path.",
		}, []string{"path"}),

		FlowsRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowoffload_flows_rolled_back_total",
			Help: "Total number of composed cross-product entries reverted after a partial hardware failure.",
		}),

		ComposedAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowoffload_composed_anomalies_total",
			Help: "Total number of tunnel-pop flows left FAILED with a nonzero refcount instead of torn down.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowoffload_queue_depth",
			Help: "Current number of items waiting in the offload worker queue.",
		}),

		QueueAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowoffload_queue_accepted_total",
			Help: "Total number of queue_put/queue_del calls accepted onto the worker queue.",
		}),

		QueueCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowoffload_queue_coalesced_total",
			Help: "Total number of queue_put calls coalesced into an already in-progress request.",
		}),

		FlowPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowoffload_flow_packets_total",
			Help: "Total packets observed across all flow_get aggregations.",
		}),

		FlowBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowoffload_flow_bytes_total",
			Help: "Total bytes observed across all flow_get aggregations.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.FlowsProgrammed.Describe(ch)
	m.FlowsFailed.Describe(ch)
	m.FlowsRolledBack.Describe(ch)
	m.ComposedAnomalies.Describe(ch)
	m.QueueDepth.Describe(ch)
	m.QueueAccepted.Describe(ch)
	m.QueueCoalesced.Describe(ch)
	m.FlowPackets.Describe(ch)
	m.FlowBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.FlowsProgrammed.Collect(ch)
	m.FlowsFailed.Collect(ch)
	m.FlowsRolledBack.Collect(ch)
	m.ComposedAnomalies.Collect(ch)
	m.QueueDepth.Collect(ch)
	m.QueueAccepted.Collect(ch)
	m.QueueCoalesced.Collect(ch)
	m.FlowPackets.Collect(ch)
	m.FlowBytes.Collect(ch)
}

// Register registers m with the default Prometheus registry.
func (m *Metrics) Register() error {
	return prometheus.Register(m)
}
