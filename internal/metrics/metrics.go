// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets entering the pipeline by ingress port
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpswitch_packets_total",
			Help: "Total number of packets received by the pipeline",
		},
		[]string{"switch", "ingress_port"},
	)

	// EmittedTotal counts packets emitted by egress port
	EmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpswitch_emitted_total",
			Help: "Total number of packets emitted",
		},
		[]string{"switch", "egress_port"},
	)

	// DropsTotal counts dropped packets by reason
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpswitch_drops_total",
			Help: "Total number of packets dropped",
		},
		[]string{"switch", "reason"},
	)

	// ForwardPathTotal counts forwarding decisions by branch (ecmp, probe, adaptive, fallback)
	ForwardPathTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpswitch_forward_path_total",
			Help: "Total number of forwarding decisions by pipeline branch",
		},
		[]string{"switch", "path"},
	)

	// RegisterUpdatesTotal counts probes that improved a register entry
	RegisterUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpswitch_register_updates_total",
			Help: "Total number of probe-driven register updates",
		},
		[]string{"switch"},
	)

	// ProcessLatencySeconds measures per-packet pipeline latency
	ProcessLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpswitch_process_latency_seconds",
			Help:    "Latency of one packet through the pipeline in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 2, 16), // 100ns to ~3ms
		},
		[]string{"switch"},
	)

	// PathUtil tracks the best known utilization per register index
	PathUtil = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mpswitch_path_util",
			Help: "Lowest path utilization recorded per register index",
		},
		[]string{"switch", "index"},
	)

	// BestPort tracks the port of the best known path per register index
	BestPort = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mpswitch_best_port",
			Help: "Egress port of the best known path per register index",
		},
		[]string{"switch", "index"},
	)

	// TableRules tracks installed rules per table
	TableRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mpswitch_table_rules",
			Help: "Number of rules installed per match-action table",
		},
		[]string{"switch", "table"},
	)

	// ProbesInjectedTotal counts probes generated by the injector
	ProbesInjectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpswitch_probes_injected_total",
			Help: "Total number of probes injected",
		},
		[]string{"switch"},
	)
)
