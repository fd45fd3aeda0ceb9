package network

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/apply"
	"github.com/strandlab/strand-operator/pkg/monitoring"
)

// Condition vocabulary stamped on Network status.
const (
	// ConditionReady is True once the topology reached Steady: every
	// peer ready and the full address table published.
	ConditionReady = "Ready"

	// ReasonAllPeersReady is the Ready=True reason.
	ReasonAllPeersReady = "AllPeersReady"

	// ReasonSpecInvalid marks a Network whose spec failed validation.
	// No children are created for it.
	ReasonSpecInvalid = "SpecInvalid"
)

// updateStatus recomputes the Network status from this pass's facts and
// patches it via server-side apply. The patch always carries the complete
// status: a partial apply would silently drop fields this manager set on an
// earlier pass.
func (r *NetworkReconciler) updateStatus(
	ctx context.Context,
	network *v1alpha1.Network,
	facts topologyFacts,
	table []v1alpha1.PeerInfo,
	phase v1alpha1.NetworkPhase,
) error {
	oldPhase := network.Status.Phase

	network.Status.Phase = phase
	network.Status.ObservedGeneration = network.Generation
	network.Status.Replicas = network.Spec.Peers
	network.Status.ReadyReplicas = facts.BootstrapReady + facts.GeneralReady
	network.Status.Peers = table
	network.Status.ExpirationTime = expirationTime(network)

	condition := metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             string(phase),
		Message:            fmt.Sprintf("%d/%d peers ready", network.Status.ReadyReplicas, network.Spec.Peers),
		LastTransitionTime: metav1.Now(),
	}
	if phase == v1alpha1.NetworkPhaseSteady {
		condition.Status = metav1.ConditionTrue
		condition.Reason = ReasonAllPeersReady
		condition.Message = fmt.Sprintf("all %d peers ready and published", network.Spec.Peers)
	}
	meta.SetStatusCondition(&network.Status.Conditions, condition)

	if oldPhase != phase {
		r.Recorder.Eventf(
			network,
			"Normal",
			"PhaseChange",
			"Transitioned from '%s' to '%s'",
			oldPhase,
			phase,
		)
	}

	if err := r.patchStatus(ctx, network); err != nil {
		return err
	}

	monitoring.SetNetworkInfo(network.Name, network.Namespace, string(phase))
	monitoring.SetNetworkPeers(network.Name, network.Namespace,
		network.Status.Replicas, network.Status.ReadyReplicas)
	return nil
}

// markInvalidSpec parks an invalid Network in Created with a SpecInvalid
// condition. Invalid networks get no children and no requeue: only a spec
// edit can move them forward.
func (r *NetworkReconciler) markInvalidSpec(ctx context.Context, network *v1alpha1.Network, cause error) error {
	r.Recorder.Eventf(network, "Warning", "InvalidSpec", "%v", cause)

	network.Status.Phase = v1alpha1.NetworkPhaseCreated
	network.Status.ObservedGeneration = network.Generation
	network.Status.Replicas = network.Spec.Peers
	meta.SetStatusCondition(&network.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             ReasonSpecInvalid,
		Message:            cause.Error(),
		LastTransitionTime: metav1.Now(),
	})

	if err := r.patchStatus(ctx, network); err != nil {
		return err
	}

	monitoring.SetNetworkInfo(network.Name, network.Namespace,
		string(v1alpha1.NetworkPhaseCreated))
	return nil
}

// markFailure stamps a Ready=False condition carrying the failure reason.
// Best effort: the reconcile error that brought us here is returned to the
// scheduler either way, so a second failure here is only logged by the
// caller.
func (r *NetworkReconciler) markFailure(ctx context.Context, network *v1alpha1.Network, reason string, cause error) error {
	meta.SetStatusCondition(&network.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            cause.Error(),
		LastTransitionTime: metav1.Now(),
	})
	return r.patchStatus(ctx, network)
}

// patchStatus applies the complete in-memory status via the status
// subresource.
func (r *NetworkReconciler) patchStatus(ctx context.Context, network *v1alpha1.Network) error {
	patchObj := &v1alpha1.Network{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       "Network",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      network.Name,
			Namespace: network.Namespace,
		},
		Status: network.Status,
	}

	if err := r.Status().Patch(
		ctx,
		patchObj,
		client.Apply,
		client.FieldOwner(apply.FieldOwner),
		client.ForceOwnership,
	); err != nil {
		return fmt.Errorf("failed to patch status: %w", err)
	}
	return nil
}

// expirationTime computes the teardown deadline for a Network with a TTL,
// or nil when the network lives until deleted.
func expirationTime(network *v1alpha1.Network) *metav1.Time {
	if network.Spec.TTLSeconds == nil {
		return nil
	}
	deadline := network.CreationTimestamp.Add(time.Duration(*network.Spec.TTLSeconds) * time.Second)
	return &metav1.Time{Time: deadline}
}
