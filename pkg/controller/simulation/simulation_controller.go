package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/apply"
	"github.com/strandlab/strand-operator/pkg/errdefs"
	"github.com/strandlab/strand-operator/pkg/monitoring"
	"github.com/strandlab/strand-operator/pkg/rpc"
	"github.com/strandlab/strand-operator/pkg/util/metadata"
)

// convergenceInterval is how long a non-terminal Simulation waits between
// passes. Child events trigger earlier passes through the watch; this is the
// floor for conditions no watch reports: the target network settling, the
// run clock expiring, the manager declaring completion.
const convergenceInterval = 10 * time.Second

// SimulationReconciler reconciles a Simulation object.
type SimulationReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	// ManagerRPC polls the run manager's control endpoint. SetupWithManager
	// installs the HTTP-backed default; tests inject a stub.
	ManagerRPC rpc.ManagerClient

	// Clock supplies the run clock. Nil means the wall clock.
	Clock clock.PassiveClock
}

// +kubebuilder:rbac:groups=strand.dev,resources=simulations,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=strand.dev,resources=simulations/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=strand.dev,resources=networks,verbs=get;list;watch
// +kubebuilder:rbac:groups=apps,resources=deployments;statefulsets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=services;configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives one Simulation through its run. Every pass observes the
// children and the target network once, applies whatever the run sequencing
// allows, and recomputes the phase from scratch. Terminal runs are never
// touched again.
func (r *SimulationReconciler) Reconcile(ctx context.Context, req ctrl.Request) (_ ctrl.Result, retErr error) {
	ctx, span := monitoring.StartReconcileSpan(ctx, "Simulation.Reconcile", req.Name, req.Namespace, "Simulation")
	defer func() {
		monitoring.RecordSpanError(span, retErr)
		span.End()
	}()

	logger := log.FromContext(ctx)

	sim := &v1alpha1.Simulation{}
	if err := r.Get(ctx, req.NamespacedName, sim); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("Simulation resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get Simulation")
		return ctrl.Result{}, err
	}

	// Children carry owner references, so deletion needs no help here.
	if !sim.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	// A finished run is immutable. Rerunning means delete and re-apply,
	// which mints a fresh run ID.
	if sim.Status.Phase.Terminal() {
		return ctrl.Result{}, nil
	}

	if err := validateSpec(sim); err != nil {
		logger.Info("Simulation spec is invalid", "reason", err.Error())
		return ctrl.Result{}, r.markInvalidSpec(ctx, sim, err)
	}

	if err := r.ensureRunID(ctx, sim); err != nil {
		return ctrl.Result{}, err
	}

	obs, err := r.observe(ctx, sim)
	if err != nil {
		logger.Error(err, "Failed to observe run")
		return ctrl.Result{}, err
	}

	// A manager past its restart budget will never finish the scenario.
	if obs.ManagerRestarts > ManagerRestartBudget {
		return ctrl.Result{}, r.markFailed(ctx, sim, ReasonManagerCrashLoop,
			errdefs.Unrecoverable("manager restarted %d times, budget is %d", obs.ManagerRestarts, ManagerRestartBudget))
	}

	// End the run before applying anything else: a completed run's only
	// remaining action is the scale-down.
	if sim.Status.StartedAt != nil {
		done, cause, err := r.checkCompletion(ctx, sim)
		if err != nil {
			return ctrl.Result{}, err
		}
		if done {
			if err := r.scaleToZero(ctx, sim, len(obs.Table)); err != nil {
				return ctrl.Result{}, err
			}
			return ctrl.Result{}, r.markCompleted(ctx, sim, cause)
		}
	}

	// The network gate only holds before the manager starts; failing a
	// live run over a network blip would throw away its results.
	if !obs.NetworkSteady && sim.Status.StartedAt == nil {
		if waited := r.now().Sub(sim.CreationTimestamp.Time); waited > NetworkWaitTimeout {
			cause := errdefs.Unrecoverable("network %q did not reach Steady within %s",
				sim.Spec.NetworkRef.Name, NetworkWaitTimeout)
			if !obs.NetworkFound {
				cause = errdefs.Unrecoverable("network %q not found in namespace %q after %s",
					sim.Spec.NetworkRef.Name, sim.TargetNetworkNamespace(), NetworkWaitTimeout)
			}
			return ctrl.Result{}, r.markFailed(ctx, sim, ReasonNetworkTimeout, cause)
		}
		logger.Info("Waiting for target network",
			"network", sim.Spec.NetworkRef.Name, "found", obs.NetworkFound)
	}

	children, err := buildChildren(sim, obs.Table, r.Scheme)
	if err != nil {
		logger.Error(err, "Failed to build children")
		r.Recorder.Eventf(sim, "Warning", "FailedApply", "Failed to build children: %v", err)
		return ctrl.Result{}, err
	}

	// Telemetry is applied every pass so it converges while the network is
	// still settling; runners follow the run sequence. Everything is gated
	// on the same observation so a pass cannot act on two different views
	// of the cluster.
	facts := obs.facts(sim)

	if err := r.applyChildren(ctx, sim, children.Telemetry...); err != nil {
		return ctrl.Result{}, err
	}

	if facts.TelemetryReady && facts.NetworkReady {
		if err := r.applyChildren(ctx, sim, children.Runners...); err != nil {
			return ctrl.Result{}, err
		}
	}

	if facts.ManagerReady {
		if err := r.applyChildren(ctx, sim, children.Workers...); err != nil {
			return ctrl.Result{}, err
		}
	}

	// Prune against the complete desired set: a shrunk spec.users removes
	// the highest worker ordinals even while the run is still converging.
	pruned, err := apply.New(r.Client, r.Scheme).Prune(
		ctx, sim.Namespace, simulationSelector(sim.Name), children.All())
	if err != nil {
		logger.Error(err, "Failed to prune children")
		r.Recorder.Eventf(sim, "Warning", "FailedPrune", "Failed to prune children: %v", err)
		return ctrl.Result{}, err
	}
	if pruned > 0 {
		r.Recorder.Eventf(sim, "Normal", "Pruned", "Deleted %d children no longer in the run", pruned)
	}

	phase := decidePhase(facts)
	if phase == v1alpha1.SimulationPhaseRunning && sim.Status.StartedAt == nil {
		now := metav1.NewTime(r.now())
		sim.Status.StartedAt = &now
	}

	if err := r.updateStatus(ctx, sim, facts, phase); err != nil {
		logger.Error(err, "Failed to update status")
		return ctrl.Result{}, err
	}

	return ctrl.Result{RequeueAfter: convergenceInterval}, nil
}

// validateSpec rejects specs that can never run. The CRD schema enforces
// most bounds already; this guards the invariants the schema cannot express.
func validateSpec(sim *v1alpha1.Simulation) error {
	if !sim.Spec.Scenario.Valid() {
		return errdefs.InvalidSpec("spec.scenario %q is not one of %v", sim.Spec.Scenario, v1alpha1.Scenarios())
	}
	if sim.Spec.Users < 1 || sim.Spec.Users > MaxWorkers {
		return errdefs.InvalidSpec("spec.users must be between 1 and %d, got %d", MaxWorkers, sim.Spec.Users)
	}
	if sim.Spec.RunTime < 1 {
		return errdefs.InvalidSpec("spec.runTime must be at least 1 minute, got %d", sim.Spec.RunTime)
	}
	if sim.Spec.NetworkRef.Name == "" {
		return errdefs.InvalidSpec("spec.networkRef.name must be set")
	}
	return nil
}

// ensureRunID mints the run's nonce on first contact and persists it before
// any child is built. Every runner env derives from the persisted value, so
// a crash between passes can never split one run across two nonces.
func (r *SimulationReconciler) ensureRunID(ctx context.Context, sim *v1alpha1.Simulation) error {
	if sim.Status.RunID != "" {
		return nil
	}
	sim.Status.RunID = uuid.NewString()
	log.FromContext(ctx).Info("Minted run ID", "runID", sim.Status.RunID)
	return r.patchStatus(ctx, sim)
}

// checkCompletion decides whether a started run is over: the declared run
// time elapsing and the manager reporting completion both end it, whichever
// comes first. Poll failures are expected while the manager restarts and
// never end a run on their own.
func (r *SimulationReconciler) checkCompletion(ctx context.Context, sim *v1alpha1.Simulation) (bool, string, error) {
	runTime := time.Duration(sim.Spec.RunTime) * time.Minute
	if elapsed := r.now().Sub(sim.Status.StartedAt.Time); elapsed >= runTime {
		return true, fmt.Sprintf("declared run time of %s elapsed", runTime), nil
	}

	status, err := r.ManagerRPC.RunStatus(ctx, ManagerAddress(sim))
	if err != nil {
		monitoring.RecordManagerPoll(sim.Name, sim.Namespace, "", err)
		log.FromContext(ctx).Info("Manager status poll failed", "reason", err.Error())
		return false, "", nil
	}
	monitoring.RecordManagerPoll(sim.Name, sim.Namespace, status.State, nil)

	if status.Completed() {
		return true, "manager reported the run complete", nil
	}
	return false, "", nil
}

// scaleToZero re-applies the manager and every worker with zero replicas.
// Workloads are scaled rather than deleted so their logs survive the run.
func (r *SimulationReconciler) scaleToZero(ctx context.Context, sim *v1alpha1.Simulation, peerCount int) error {
	objs := make([]client.Object, 0, int(sim.Spec.Users)+1)

	manager, err := BuildManagerDeployment(sim, sim.Status.RunID, true, r.Scheme)
	if err != nil {
		return err
	}
	objs = append(objs, manager)

	for i := int32(0); i < sim.Spec.Users; i++ {
		worker, err := BuildWorkerDeployment(sim, i, sim.Status.RunID, peerCount, true, r.Scheme)
		if err != nil {
			return err
		}
		objs = append(objs, worker)
	}

	return r.applyChildren(ctx, sim, objs...)
}

// childSet is everything a Simulation spec expands to, split by run tier.
type childSet struct {
	Telemetry []client.Object
	Runners   []client.Object
	Workers   []client.Object
}

// All returns the complete desired set for pruning.
func (s childSet) All() []client.Object {
	all := make([]client.Object, 0, len(s.Telemetry)+len(s.Runners)+len(s.Workers))
	all = append(all, s.Telemetry...)
	all = append(all, s.Runners...)
	all = append(all, s.Workers...)
	return all
}

// buildChildren expands the Simulation spec into the desired child objects.
// Within each tier the order is mount dependencies first: ConfigMaps, then
// Services, then workloads.
func buildChildren(sim *v1alpha1.Simulation, table []v1alpha1.PeerInfo, scheme *runtime.Scheme) (childSet, error) {
	var set childSet

	otelCM, err := BuildOtelConfigMap(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	promCM, err := BuildPrometheusConfigMap(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	otelSvc, err := BuildOtelService(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	redisSvc, err := BuildRedisService(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	otelDep, err := BuildOtelDeployment(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	promSts, err := BuildPrometheusStatefulSet(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	redisDep, err := BuildRedisDeployment(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	set.Telemetry = []client.Object{otelCM, promCM, otelSvc, redisSvc, otelDep, promSts, redisDep}

	mirror, err := BuildRunnerPeersConfigMap(sim, table, scheme)
	if err != nil {
		return childSet{}, err
	}
	managerSvc, err := BuildManagerService(sim, scheme)
	if err != nil {
		return childSet{}, err
	}
	manager, err := BuildManagerDeployment(sim, sim.Status.RunID, false, scheme)
	if err != nil {
		return childSet{}, err
	}
	set.Runners = []client.Object{mirror, managerSvc, manager}

	for i := int32(0); i < sim.Spec.Users; i++ {
		worker, err := BuildWorkerDeployment(sim, i, sim.Status.RunID, len(table), false, scheme)
		if err != nil {
			return childSet{}, err
		}
		set.Workers = append(set.Workers, worker)
	}

	return set, nil
}

// applyChildren server-side-applies objs in order, stopping at the first
// failure. Failures land on the Ready condition and as a Warning event
// before the error goes back to the scheduler for backoff.
func (r *SimulationReconciler) applyChildren(ctx context.Context, sim *v1alpha1.Simulation, objs ...client.Object) error {
	if len(objs) == 0 {
		return nil
	}
	if err := apply.New(r.Client, r.Scheme).ApplyAll(ctx, objs...); err != nil {
		reason := "FailedApply"
		if errdefs.IsConflict(err) {
			reason = "FieldConflict"
		}
		r.Recorder.Eventf(sim, "Warning", reason, "Failed to apply children: %v", err)
		if statusErr := r.markFailure(ctx, sim, reason, err); statusErr != nil {
			log.FromContext(ctx).Error(statusErr, "Failed to record failure condition")
		}
		return err
	}
	return nil
}

func (r *SimulationReconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now()
	}
	return time.Now()
}

// simulationSelector matches every pruneable child of the named run.
func simulationSelector(simName string) labels.Selector {
	return labels.SelectorFromSet(labels.Set{metadata.LabelSimulation: simName})
}

// SetupWithManager sets up the controller with the Manager. The target
// Network is deliberately not watched: the convergence requeue polls it, and
// a network-wide watch would fan every network flap out to every run.
func (r *SimulationReconciler) SetupWithManager(
	mgr ctrl.Manager,
	opts ...controller.Options,
) error {
	controllerOpts := controller.Options{}
	if len(opts) > 0 {
		controllerOpts = opts[0]
	}

	if r.ManagerRPC == nil {
		r.ManagerRPC = rpc.NewHTTPClient(rpc.DefaultTimeout)
	}
	if r.Clock == nil {
		r.Clock = clock.RealClock{}
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.Simulation{}).
		Owns(&appsv1.Deployment{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		WithOptions(controllerOpts).
		Complete(r)
}
