package network

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/peering"
)

// peerState is what the reconciler observed about one peer workload.
type peerState struct {
	// Exists reports whether the peer's StatefulSet is present at all.
	Exists bool

	// Ready reports whether the peer's single replica passed readiness.
	Ready bool
}

// observation is one consistent snapshot of the network's children. Every
// decision in a reconcile pass (phase, candidate set, child gating) derives
// from the same observation so the pass cannot contradict itself.
type observation struct {
	// SupportReady is true when every enabled support service has a
	// ready replica. Networks with external anchor and chain RPC have
	// no support services and observe true.
	SupportReady bool

	// Peers holds the observed state for every desired peer ordinal.
	Peers map[int32]peerState

	// Table is the currently published peer-address table, or nil when
	// no table ConfigMap exists yet. A table that fails to decode is
	// treated as unpublished and rebuilt wholesale.
	Table []v1alpha1.PeerInfo
}

// observe gathers the current state of all children of network in a single
// pass. Missing children are recorded as absent, not errors; only live API
// failures propagate.
func (r *NetworkReconciler) observe(ctx context.Context, network *v1alpha1.Network) (*observation, error) {
	obs := &observation{
		Peers: make(map[int32]peerState, network.Spec.Peers),
	}

	supportReady, err := r.observeSupport(ctx, network)
	if err != nil {
		return nil, err
	}
	obs.SupportReady = supportReady

	bootstrap := network.BootstrapReplicas()
	for i := int32(0); i < network.Spec.Peers; i++ {
		name := PeerName(network.Name, i, i < bootstrap)
		exists, ready, err := r.statefulSetReady(ctx, types.NamespacedName{
			Namespace: network.Namespace,
			Name:      name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to observe peer %d: %w", i, err)
		}
		obs.Peers[i] = peerState{Exists: exists, Ready: ready}
	}

	table, err := r.observeTable(ctx, network)
	if err != nil {
		return nil, err
	}
	obs.Table = table

	return obs, nil
}

// observeSupport checks readiness of the enabled support services.
func (r *NetworkReconciler) observeSupport(ctx context.Context, network *v1alpha1.Network) (bool, error) {
	ready := true

	if network.AnchorEnabled() {
		for _, name := range []string{AnchorDBName(network.Name), AnchorName(network.Name)} {
			_, ok, err := r.statefulSetReady(ctx, types.NamespacedName{
				Namespace: network.Namespace,
				Name:      name,
			})
			if err != nil {
				return false, fmt.Errorf("failed to observe %s: %w", name, err)
			}
			ready = ready && ok
		}
	}

	if network.ChainRPCEnabled() {
		_, ok, err := r.statefulSetReady(ctx, types.NamespacedName{
			Namespace: network.Namespace,
			Name:      ChainRPCName(network.Name),
		})
		if err != nil {
			return false, fmt.Errorf("failed to observe %s: %w", ChainRPCName(network.Name), err)
		}
		ready = ready && ok
	}

	return ready, nil
}

// statefulSetReady reports whether the named StatefulSet exists and has at
// least one ready replica. Absence is not an error.
func (r *NetworkReconciler) statefulSetReady(ctx context.Context, key types.NamespacedName) (exists, ready bool, err error) {
	sts := &appsv1.StatefulSet{}
	if err := r.Get(ctx, key, sts); err != nil {
		if errors.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, sts.Status.ReadyReplicas > 0, nil
}

// observeTable reads the published peer-address table. A missing ConfigMap
// means no table has been published. A corrupt table is logged and treated
// the same way, so the next coordination pass replaces it.
func (r *NetworkReconciler) observeTable(ctx context.Context, network *v1alpha1.Network) ([]v1alpha1.PeerInfo, error) {
	cm := &corev1.ConfigMap{}
	key := types.NamespacedName{
		Namespace: network.Namespace,
		Name:      peering.ConfigMapName(network.Name),
	}
	if err := r.Get(ctx, key, cm); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to observe peer table: %w", err)
	}

	table, err := peering.DecodeTable([]byte(cm.Data[peering.ConfigMapKey]))
	if err != nil {
		log.FromContext(ctx).Error(err, "published peer table is corrupt, republishing",
			"configmap", key.Name)
		return nil, nil
	}
	return table, nil
}

// facts reduces the observation to the inputs of the phase decision.
func (o *observation) facts(network *v1alpha1.Network) topologyFacts {
	bootstrap := network.BootstrapReplicas()

	f := topologyFacts{
		SupportReady:       o.SupportReady,
		BootstrapDesired:   bootstrap,
		GeneralDesired:     network.GeneralReplicas(),
		BootstrapPublished: tableCovers(o.Table, 0, bootstrap),
		// Exact match, not coverage: a table with entries for peers the
		// spec no longer names must be re-coordinated down.
		AllPublished: tableCovers(o.Table, 0, network.Spec.Peers) && len(o.Table) == int(network.Spec.Peers),
	}

	for i, state := range o.Peers {
		if !state.Ready {
			continue
		}
		if i < bootstrap {
			f.BootstrapReady++
		} else {
			f.GeneralReady++
		}
	}

	return f
}

// candidates converts the observation into the coordinator's input. Peers
// whose StatefulSet does not exist yet are excluded entirely: the coordinator
// distinguishes "not ready" from "not provisioned", and only the former is a
// fail-closed condition for the bootstrap tier.
func (o *observation) candidates(network *v1alpha1.Network) []peering.Candidate {
	bootstrap := network.BootstrapReplicas()

	cands := make([]peering.Candidate, 0, len(o.Peers))
	for i := int32(0); i < network.Spec.Peers; i++ {
		state := o.Peers[i]
		if !state.Exists {
			continue
		}
		cands = append(cands, peering.Candidate{
			Index:      i,
			Bootstrap:  i < bootstrap,
			Ready:      state.Ready,
			RPCAddress: PeerRPCAddress(network, i),
			APIAddress: PeerAPIAddress(network, i),
		})
	}
	return cands
}

// tableCovers reports whether table has an entry for every ordinal in
// [from, to).
func tableCovers(table []v1alpha1.PeerInfo, from, to int32) bool {
	if to <= from {
		return true
	}
	seen := make(map[int32]bool, len(table))
	for _, p := range table {
		seen[p.Index] = true
	}
	for i := from; i < to; i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}
