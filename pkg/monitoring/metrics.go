package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Domain-specific metric collectors.
//
// These complement the generic controller-runtime metrics (reconcile counts,
// durations, work queue depth, etc.) with operator-specific state that the
// framework cannot know about.
var (
	networkInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strand_operator_network_info",
			Help: "Info-style metric for Network discovery and phase tracking. Always 1.",
		},
		[]string{"name", "namespace", "phase"},
	)

	networkPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strand_operator_network_peers",
			Help: "Peer workload counts for a Network.",
		},
		[]string{"network", "namespace", "state"},
	)

	peeringPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_operator_peering_publish_total",
			Help: "Total peer-address table publish attempts, by outcome.",
		},
		[]string{"network", "namespace", "result"},
	)

	peerFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_operator_peer_fetch_total",
			Help: "Total peer identity fetches issued by the peering coordinator, by outcome.",
		},
		[]string{"network", "namespace", "result"},
	)

	simulationInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strand_operator_simulation_info",
			Help: "Info-style metric for Simulation discovery and phase tracking. Always 1.",
		},
		[]string{"name", "namespace", "phase"},
	)

	simulationWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strand_operator_simulation_workers",
			Help: "Worker workload counts for a Simulation.",
		},
		[]string{"simulation", "namespace", "state"},
	)

	managerPollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_operator_manager_poll_total",
			Help: "Total manager completion-signal polls, by reported state.",
		},
		[]string{"simulation", "namespace", "result"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		networkInfo,
		networkPeers,
		peeringPublishTotal,
		peerFetchTotal,
		simulationInfo,
		simulationWorkers,
		managerPollTotal,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		networkInfo,
		networkPeers,
		peeringPublishTotal,
		peerFetchTotal,
		simulationInfo,
		simulationWorkers,
		managerPollTotal,
	}
}
