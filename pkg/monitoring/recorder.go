package monitoring

// SetNetworkInfo sets the info-style gauge for a Network.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetNetworkInfo(name, namespace, phase string) {
	networkInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	networkInfo.WithLabelValues(name, namespace, phase).Set(1)
}

// SetNetworkPeers sets the desired and ready peer gauges for a Network.
func SetNetworkPeers(network, namespace string, desired, ready int32) {
	networkPeers.WithLabelValues(network, namespace, "desired").Set(float64(desired))
	networkPeers.WithLabelValues(network, namespace, "ready").Set(float64(ready))
}

// RecordPeeringPublish records one peer-address table publish attempt.
func RecordPeeringPublish(network, namespace string, err error) {
	result := "published"
	if err != nil {
		result = "error"
	}
	peeringPublishTotal.WithLabelValues(network, namespace, result).Inc()
}

// RecordPeeringNotReady records a coordination pass that bailed because a
// bootstrap peer was not ready yet.
func RecordPeeringNotReady(network, namespace string) {
	peeringPublishTotal.WithLabelValues(network, namespace, "not_ready").Inc()
}

// RecordPeerFetch records one peer identity fetch issued by the coordinator.
func RecordPeerFetch(network, namespace string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	peerFetchTotal.WithLabelValues(network, namespace, result).Inc()
}

// SetSimulationInfo sets the info-style gauge for a Simulation.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetSimulationInfo(name, namespace, phase string) {
	simulationInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	simulationInfo.WithLabelValues(name, namespace, phase).Set(1)
}

// SetSimulationWorkers sets the desired and ready worker gauges for a Simulation.
func SetSimulationWorkers(simulation, namespace string, desired, ready int32) {
	simulationWorkers.WithLabelValues(simulation, namespace, "desired").Set(float64(desired))
	simulationWorkers.WithLabelValues(simulation, namespace, "ready").Set(float64(ready))
}

// RecordManagerPoll records one manager completion-signal poll. The result
// label carries the reported run state, or "error" when the poll failed.
func RecordManagerPoll(simulation, namespace, state string, err error) {
	if err != nil {
		state = "error"
	}
	managerPollTotal.WithLabelValues(simulation, namespace, state).Inc()
}
