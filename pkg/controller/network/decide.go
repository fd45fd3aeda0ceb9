package network

import (
	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

// topologyFacts is everything the phase decision depends on, gathered in
// one observation pass. Nothing here is carried over from a previous
// reconcile.
type topologyFacts struct {
	// SupportReady is true once every enabled support service reports a
	// ready replica. Disabled services (external anchor or chain RPC)
	// count as ready.
	SupportReady bool

	// BootstrapDesired and BootstrapReady size the bootstrap tier.
	BootstrapDesired int32
	BootstrapReady   int32

	// GeneralDesired and GeneralReady size the general tier.
	GeneralDesired int32
	GeneralReady   int32

	// BootstrapPublished is true when the published table covers every
	// bootstrap ordinal; AllPublished when it matches the desired peer
	// set exactly.
	BootstrapPublished bool
	AllPublished       bool
}

// decidePhase recomputes the topology phase from observed facts. It is the
// single source of truth for sequencing: the reconciler gates child
// application on the same facts, so phase and actions can never disagree.
func decidePhase(f topologyFacts) v1alpha1.NetworkPhase {
	switch {
	case !f.SupportReady:
		return v1alpha1.NetworkPhaseProvisioningSupport
	case f.BootstrapReady < f.BootstrapDesired:
		return v1alpha1.NetworkPhaseProvisioningBootstrapPeers
	case !f.BootstrapPublished:
		return v1alpha1.NetworkPhasePeeringBootstrap
	case f.GeneralReady < f.GeneralDesired:
		return v1alpha1.NetworkPhaseProvisioningGeneralPeers
	case !f.AllPublished:
		return v1alpha1.NetworkPhasePeeringAll
	default:
		return v1alpha1.NetworkPhaseSteady
	}
}
