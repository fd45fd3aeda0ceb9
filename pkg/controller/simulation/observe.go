package simulation

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/peering"
)

// observation is one consistent snapshot of the run's surroundings and
// children. Every decision in a reconcile pass derives from the same
// observation so the pass cannot contradict itself.
type observation struct {
	// NetworkFound reports whether the referenced Network exists at all.
	NetworkFound bool

	// NetworkSteady is true when the referenced Network reports Steady.
	// The manager is never started against a network still converging.
	NetworkSteady bool

	// Table is the target network's published peer-address table, or nil
	// when the network has not published one yet.
	Table []v1alpha1.PeerInfo

	// TelemetryReady is true when the collector, Prometheus and Redis all
	// have a ready replica.
	TelemetryReady bool

	// ManagerReady reports whether the manager Deployment has a ready
	// replica.
	ManagerReady bool

	// ManagerRestarts is the container restart total across the manager's
	// pods. A manager burning through its restart budget fails the run.
	ManagerRestarts int32

	// WorkersReady counts worker Deployments with a ready replica.
	WorkersReady int32
}

// observe gathers the current state of the run's dependencies and children
// in a single pass. Missing children are recorded as absent, not errors;
// only live API failures propagate.
func (r *SimulationReconciler) observe(ctx context.Context, sim *v1alpha1.Simulation) (*observation, error) {
	obs := &observation{}

	if err := r.observeNetwork(ctx, sim, obs); err != nil {
		return nil, err
	}
	if err := r.observeTelemetry(ctx, sim, obs); err != nil {
		return nil, err
	}
	if err := r.observeManager(ctx, sim, obs); err != nil {
		return nil, err
	}
	if err := r.observeWorkers(ctx, sim, obs); err != nil {
		return nil, err
	}

	return obs, nil
}

// observeNetwork resolves the referenced Network and its published peer
// table. The table is read from the network's own namespace; the reconciler
// mirrors it into the run's namespace before starting any runner.
func (r *SimulationReconciler) observeNetwork(ctx context.Context, sim *v1alpha1.Simulation, obs *observation) error {
	network := &v1alpha1.Network{}
	key := types.NamespacedName{
		Namespace: sim.TargetNetworkNamespace(),
		Name:      sim.Spec.NetworkRef.Name,
	}
	if err := r.Get(ctx, key, network); err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to observe network %s: %w", key, err)
	}
	obs.NetworkFound = true
	obs.NetworkSteady = network.Status.Phase == v1alpha1.NetworkPhaseSteady

	cm := &corev1.ConfigMap{}
	cmKey := types.NamespacedName{
		Namespace: key.Namespace,
		Name:      peering.ConfigMapName(network.Name),
	}
	if err := r.Get(ctx, cmKey, cm); err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to observe peer table: %w", err)
	}

	table, err := peering.DecodeTable([]byte(cm.Data[peering.ConfigMapKey]))
	if err != nil {
		// The network controller owns repair; until then the run has no
		// usable table.
		log.FromContext(ctx).Error(err, "target network's peer table is corrupt",
			"configmap", cmKey.Name)
		return nil
	}
	obs.Table = table
	return nil
}

// observeTelemetry checks readiness of the collector, Prometheus and Redis.
func (r *SimulationReconciler) observeTelemetry(ctx context.Context, sim *v1alpha1.Simulation, obs *observation) error {
	ready := true

	for _, name := range []string{OtelName(sim.Name), RedisName(sim.Name)} {
		_, ok, err := r.deploymentReady(ctx, types.NamespacedName{
			Namespace: sim.Namespace,
			Name:      name,
		})
		if err != nil {
			return fmt.Errorf("failed to observe %s: %w", name, err)
		}
		ready = ready && ok
	}

	sts := &appsv1.StatefulSet{}
	key := types.NamespacedName{
		Namespace: sim.Namespace,
		Name:      PrometheusName(sim.Name),
	}
	if err := r.Get(ctx, key, sts); err != nil {
		if !errors.IsNotFound(err) {
			return fmt.Errorf("failed to observe %s: %w", key.Name, err)
		}
		ready = false
	} else {
		ready = ready && sts.Status.ReadyReplicas > 0
	}

	obs.TelemetryReady = ready
	return nil
}

// observeManager checks the manager Deployment and tallies restarts across
// its pods.
func (r *SimulationReconciler) observeManager(ctx context.Context, sim *v1alpha1.Simulation, obs *observation) error {
	_, ready, err := r.deploymentReady(ctx, types.NamespacedName{
		Namespace: sim.Namespace,
		Name:      ManagerName(sim.Name),
	})
	if err != nil {
		return fmt.Errorf("failed to observe manager: %w", err)
	}
	obs.ManagerReady = ready

	pods := &corev1.PodList{}
	if err := r.List(ctx, pods,
		client.InNamespace(sim.Namespace),
		client.MatchingLabels(simLabels(sim, ManagerComponentName)),
	); err != nil {
		return fmt.Errorf("failed to list manager pods: %w", err)
	}
	for _, pod := range pods.Items {
		for _, cs := range pod.Status.ContainerStatuses {
			obs.ManagerRestarts += cs.RestartCount
		}
	}
	return nil
}

// observeWorkers counts ready worker Deployments.
func (r *SimulationReconciler) observeWorkers(ctx context.Context, sim *v1alpha1.Simulation, obs *observation) error {
	for i := int32(0); i < sim.Spec.Users; i++ {
		_, ready, err := r.deploymentReady(ctx, types.NamespacedName{
			Namespace: sim.Namespace,
			Name:      WorkerName(sim.Name, i),
		})
		if err != nil {
			return fmt.Errorf("failed to observe worker %d: %w", i, err)
		}
		if ready {
			obs.WorkersReady++
		}
	}
	return nil
}

// deploymentReady reports whether the named Deployment exists and has at
// least one ready replica. Absence is not an error.
func (r *SimulationReconciler) deploymentReady(ctx context.Context, key types.NamespacedName) (exists, ready bool, err error) {
	deployment := &appsv1.Deployment{}
	if err := r.Get(ctx, key, deployment); err != nil {
		if errors.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, deployment.Status.ReadyReplicas > 0, nil
}

// facts reduces the observation to the inputs of the phase decision.
func (o *observation) facts(sim *v1alpha1.Simulation) runFacts {
	return runFacts{
		NetworkReady:   o.NetworkSteady && len(o.Table) > 0,
		TelemetryReady: o.TelemetryReady,
		ManagerReady:   o.ManagerReady,
		WorkersDesired: sim.Spec.Users,
		WorkersReady:   o.WorkersReady,
	}
}
