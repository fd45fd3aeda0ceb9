package simulation

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/apply"
	"github.com/strandlab/strand-operator/pkg/monitoring"
)

// Condition vocabulary stamped on Simulation status.
const (
	// ConditionReady is True while the run is Running: manager and every
	// worker ready.
	ConditionReady = "Ready"

	// ConditionComplete is set once the run reaches a terminal phase:
	// True for Completed, False with a failure reason for Failed.
	ConditionComplete = "Complete"

	// ReasonAllWorkersReady is the Ready=True reason.
	ReasonAllWorkersReady = "AllWorkersReady"

	// ReasonSpecInvalid marks a Simulation whose spec failed validation.
	// No children are created for it.
	ReasonSpecInvalid = "SpecInvalid"

	// ReasonRunCompleted is the Complete=True reason.
	ReasonRunCompleted = "RunCompleted"

	// ReasonNetworkTimeout fails a run whose target network never reached
	// Steady within the readiness window.
	ReasonNetworkTimeout = "NetworkTimeout"

	// ReasonManagerCrashLoop fails a run whose manager burned through its
	// restart budget.
	ReasonManagerCrashLoop = "ManagerCrashLoop"
)

// updateStatus recomputes the Simulation status from this pass's facts and
// patches it via server-side apply. The patch always carries the complete
// status: a partial apply would silently drop fields this manager set on an
// earlier pass. Terminal transitions go through markCompleted and markFailed
// instead.
func (r *SimulationReconciler) updateStatus(
	ctx context.Context,
	sim *v1alpha1.Simulation,
	facts runFacts,
	phase v1alpha1.SimulationPhase,
) error {
	oldPhase := sim.Status.Phase

	sim.Status.Phase = phase
	sim.Status.ObservedGeneration = sim.Generation
	sim.Status.Workers = facts.WorkersDesired
	sim.Status.ReadyWorkers = facts.WorkersReady

	condition := metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             string(phase),
		Message:            fmt.Sprintf("%d/%d workers ready", facts.WorkersReady, facts.WorkersDesired),
		LastTransitionTime: metav1.Now(),
	}
	if phase == v1alpha1.SimulationPhaseRunning {
		condition.Status = metav1.ConditionTrue
		condition.Reason = ReasonAllWorkersReady
		condition.Message = fmt.Sprintf("all %d workers ready", facts.WorkersDesired)
	}
	meta.SetStatusCondition(&sim.Status.Conditions, condition)

	if oldPhase != phase {
		r.Recorder.Eventf(
			sim,
			"Normal",
			"PhaseChange",
			"Transitioned from '%s' to '%s'",
			oldPhase,
			phase,
		)
	}

	if err := r.patchStatus(ctx, sim); err != nil {
		return err
	}

	monitoring.SetSimulationInfo(sim.Name, sim.Namespace, string(phase))
	monitoring.SetSimulationWorkers(sim.Name, sim.Namespace,
		facts.WorkersDesired, facts.WorkersReady)
	return nil
}

// markCompleted moves the run to its Completed terminal state. cause names
// which signal ended the run, the declared runtime or the manager.
func (r *SimulationReconciler) markCompleted(ctx context.Context, sim *v1alpha1.Simulation, cause string) error {
	r.Recorder.Eventf(sim, "Normal", "RunCompleted", "%s", cause)

	now := metav1.NewTime(r.now())
	sim.Status.Phase = v1alpha1.SimulationPhaseCompleted
	sim.Status.ObservedGeneration = sim.Generation
	sim.Status.CompletedAt = &now
	meta.SetStatusCondition(&sim.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             ReasonRunCompleted,
		Message:            "run finished, workloads scaled to zero",
		LastTransitionTime: metav1.Now(),
	})
	meta.SetStatusCondition(&sim.Status.Conditions, metav1.Condition{
		Type:               ConditionComplete,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonRunCompleted,
		Message:            cause,
		LastTransitionTime: metav1.Now(),
	})

	if err := r.patchStatus(ctx, sim); err != nil {
		return err
	}

	monitoring.SetSimulationInfo(sim.Name, sim.Namespace,
		string(v1alpha1.SimulationPhaseCompleted))
	return nil
}

// markFailed moves the run to its Failed terminal state. Children are left
// in place for postmortem.
func (r *SimulationReconciler) markFailed(ctx context.Context, sim *v1alpha1.Simulation, reason string, cause error) error {
	r.Recorder.Eventf(sim, "Warning", "RunFailed", "%v", cause)

	now := metav1.NewTime(r.now())
	sim.Status.Phase = v1alpha1.SimulationPhaseFailed
	sim.Status.ObservedGeneration = sim.Generation
	sim.Status.CompletedAt = &now
	meta.SetStatusCondition(&sim.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            cause.Error(),
		LastTransitionTime: metav1.Now(),
	})
	meta.SetStatusCondition(&sim.Status.Conditions, metav1.Condition{
		Type:               ConditionComplete,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            cause.Error(),
		LastTransitionTime: metav1.Now(),
	})

	if err := r.patchStatus(ctx, sim); err != nil {
		return err
	}

	monitoring.SetSimulationInfo(sim.Name, sim.Namespace,
		string(v1alpha1.SimulationPhaseFailed))
	return nil
}

// markInvalidSpec parks an invalid Simulation in Pending with a SpecInvalid
// condition. Invalid runs get no children and no requeue: only a spec edit
// can move them forward.
func (r *SimulationReconciler) markInvalidSpec(ctx context.Context, sim *v1alpha1.Simulation, cause error) error {
	r.Recorder.Eventf(sim, "Warning", "InvalidSpec", "%v", cause)

	sim.Status.Phase = v1alpha1.SimulationPhasePending
	sim.Status.ObservedGeneration = sim.Generation
	meta.SetStatusCondition(&sim.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             ReasonSpecInvalid,
		Message:            cause.Error(),
		LastTransitionTime: metav1.Now(),
	})

	if err := r.patchStatus(ctx, sim); err != nil {
		return err
	}

	monitoring.SetSimulationInfo(sim.Name, sim.Namespace,
		string(v1alpha1.SimulationPhasePending))
	return nil
}

// markFailure stamps a Ready=False condition carrying the failure reason.
// Best effort: the reconcile error that brought us here is returned to the
// scheduler either way, so a second failure here is only logged by the
// caller.
func (r *SimulationReconciler) markFailure(ctx context.Context, sim *v1alpha1.Simulation, reason string, cause error) error {
	meta.SetStatusCondition(&sim.Status.Conditions, metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            cause.Error(),
		LastTransitionTime: metav1.Now(),
	})
	return r.patchStatus(ctx, sim)
}

// patchStatus applies the complete in-memory status via the status
// subresource.
func (r *SimulationReconciler) patchStatus(ctx context.Context, sim *v1alpha1.Simulation) error {
	patchObj := &v1alpha1.Simulation{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       "Simulation",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      sim.Name,
			Namespace: sim.Namespace,
		},
		Status: sim.Status,
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
