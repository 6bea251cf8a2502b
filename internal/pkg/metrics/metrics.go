package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "drone_gateway"

var (
	// ClusterActive is 1 for the active member and 0 for the rest.
	// The "local" member is set while no backend is usable.
	ClusterActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_active",
			Help:      "Active cluster member (1=active, 0=standby).",
		},
		[]string{"member"},
	)

	// ClusterAvailable records the outcome of the last probe per member.
	ClusterAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_member_available",
			Help:      "Availability of each cluster member (1=available, 0=unavailable).",
		},
		[]string{"member"},
	)

	// ClusterLatency records the last successful probe round trip.
	ClusterLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_member_latency_seconds",
			Help:      "Last measured health probe latency per cluster member.",
		},
		[]string{"member"},
	)

	ProbeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_probe_total",
			Help:      "Health probes by member and result.",
		},
		[]string{"member", "result"}, // result: success/failed
	)

	// FailoverTotal counts switch attempts. reason: failover/optimize/operator.
	FailoverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_switch_total",
			Help:      "Cluster switch attempts by reason and result.",
		},
		[]string{"reason", "result"},
	)

	ModemState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modem_state",
			Help:      "Current modem bring-up state (1 for the current state).",
		},
		[]string{"state"},
	)

	ModemCommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modem_command_total",
			Help:      "Modem commands by command and outcome.",
		},
		[]string{"command", "outcome"}, // outcome: ok/error/timeout/discarded
	)

	ModemCommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "modem_command_latency_seconds",
			Help:      "Latency between writing a modem command and its final result code.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"command"},
	)

	HubDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_delivered_total",
			Help:      "Messages written to sinks by sink kind and lane.",
		},
		[]string{"sink", "lane"}, // lane: state/control
	)

	HubDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_dropped_total",
			Help:      "Superseded state messages dropped by sink kind.",
		},
		[]string{"sink"},
	)

	HubSinks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_sinks",
			Help:      "Connected sinks by kind.",
		},
		[]string{"sink"},
	)

	RouterMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_messages_total",
			Help:      "Inbound messages by kind and result.",
		},
		[]string{"kind", "result"}, // result: handled/forwarded/malformed/failed
	)
)

func init() {
	prometheus.MustRegister(
		ClusterActive,
		ClusterAvailable,
		ClusterLatency,
		ProbeTotal,
		FailoverTotal,
		ModemState,
		ModemCommandTotal,
		ModemCommandLatency,
		HubDeliveredTotal,
		HubDroppedTotal,
		HubSinks,
		RouterMessagesTotal,
	)
}

// SetActiveMember marks name as the only active member among names.
func SetActiveMember(name string, names []string) {
	for _, n := range names {
		ClusterActive.WithLabelValues(n).Set(boolFloat(n == name))
	}
	ClusterActive.WithLabelValues("local").Set(boolFloat(name == ""))
}

// SetModemState marks state as the current modem state among states.
func SetModemState(state string, states []string) {
	for _, s := range states {
		ModemState.WithLabelValues(s).Set(boolFloat(s == state))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
