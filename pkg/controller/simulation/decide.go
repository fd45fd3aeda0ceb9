package simulation

import (
	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

// runFacts is everything the phase decision depends on, gathered in one
// observation pass. Nothing here is carried over from a previous reconcile;
// the terminal phases are decided by the reconciler itself, not here.
type runFacts struct {
	// NetworkReady is true when the target network reports Steady and has
	// a published peer table.
	NetworkReady bool

	// TelemetryReady is true once the collector, Prometheus and Redis all
	// report a ready replica.
	TelemetryReady bool

	// ManagerReady reports whether the manager passed readiness.
	ManagerReady bool

	// WorkersDesired and WorkersReady size the worker fleet.
	WorkersDesired int32
	WorkersReady   int32
}

// decidePhase recomputes the run phase from observed facts. It is the single
// source of truth for sequencing: the reconciler gates child application on
// the same facts, so phase and actions can never disagree.
//
// The network gate only holds back a run whose manager has not started: once
// the manager is up, a network blip must not drag a live run back to
// Pending.
func decidePhase(f runFacts) v1alpha1.SimulationPhase {
	switch {
	case !f.NetworkReady && !f.ManagerReady:
		return v1alpha1.SimulationPhasePending
	case !f.TelemetryReady:
		return v1alpha1.SimulationPhaseProvisioningTelemetry
	case !f.ManagerReady:
		return v1alpha1.SimulationPhaseStartingManager
	case f.WorkersReady < f.WorkersDesired:
		return v1alpha1.SimulationPhaseStartingWorkers
	default:
		return v1alpha1.SimulationPhaseRunning
	}
}
