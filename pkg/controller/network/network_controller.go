package network

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
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
	"github.com/strandlab/strand-operator/pkg/peering"
	"github.com/strandlab/strand-operator/pkg/rpc"
	"github.com/strandlab/strand-operator/pkg/util/metadata"
)

// convergenceInterval is how long a converging Network waits between
// passes. Child events (StatefulSet readiness flips, deleted Services)
// trigger earlier passes through the watch; this is only the floor for
// conditions no watch reports, like a peer's RPC endpoint coming up.
const convergenceInterval = 10 * time.Second

// NetworkReconciler reconciles a Network object.
type NetworkReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	// Coordinator builds peer address tables. SetupWithManager installs
	// the HTTP-backed default; tests inject one with a stub RPC client.
	Coordinator *peering.Coordinator

	// Clock supplies the TTL clock. Nil means the wall clock.
	Clock clock.PassiveClock
}

// +kubebuilder:rbac:groups=strand.dev,resources=networks,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=strand.dev,resources=networks/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=apps,resources=statefulsets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=services;configmaps;secrets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives one Network toward its declared topology. Every pass
// observes the children once, applies whatever the topology sequencing
// allows, prunes what the spec no longer names, and recomputes the phase
// from scratch.
func (r *NetworkReconciler) Reconcile(ctx context.Context, req ctrl.Request) (_ ctrl.Result, retErr error) {
	ctx, span := monitoring.StartReconcileSpan(ctx, "Network.Reconcile", req.Name, req.Namespace, "Network")
	defer func() {
		monitoring.RecordSpanError(span, retErr)
		span.End()
	}()

	logger := log.FromContext(ctx)

	network := &v1alpha1.Network{}
	if err := r.Get(ctx, req.NamespacedName, network); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("Network resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get Network")
		return ctrl.Result{}, err
	}

	// Children carry owner references, so deletion needs no help here.
	if !network.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	if err := validateSpec(network); err != nil {
		logger.Info("Network spec is invalid", "reason", err.Error())
		return ctrl.Result{}, r.markInvalidSpec(ctx, network, err)
	}

	if expired, err := r.reapExpired(ctx, network); err != nil || expired {
		return ctrl.Result{}, err
	}

	if err := r.ensureSecrets(ctx, network); err != nil {
		if errdefs.IsNotReady(err) {
			logger.Info("Waiting on secret", "reason", err.Error())
			return ctrl.Result{RequeueAfter: convergenceInterval}, nil
		}
		r.Recorder.Eventf(network, "Warning", "FailedApply", "Failed to ensure secrets: %v", err)
		return ctrl.Result{}, err
	}

	obs, err := r.observe(ctx, network)
	if err != nil {
		logger.Error(err, "Failed to observe children")
		return ctrl.Result{}, err
	}

	children, err := buildChildren(network, r.Scheme)
	if err != nil {
		logger.Error(err, "Failed to build children")
		r.Recorder.Eventf(network, "Warning", "FailedApply", "Failed to build children: %v", err)
		return ctrl.Result{}, err
	}

	// Support services are applied every pass; peers follow the
	// topology sequence. Everything is gated on the same observation so
	// a pass cannot act on two different views of the cluster.
	facts := obs.facts(network)

	if err := r.applyChildren(ctx, network, children.Support...); err != nil {
		return ctrl.Result{}, err
	}

	if facts.SupportReady {
		if err := r.applyChildren(ctx, network, children.Bootstrap...); err != nil {
			return ctrl.Result{}, err
		}
	}

	// Run a peering pass once the whole bootstrap tier is ready and the
	// published table is behind the desired peer set. Publishing updates
	// the facts immediately: a network whose peers are all ready reaches
	// Steady in this same pass instead of waiting a requeue.
	if facts.SupportReady && facts.BootstrapReady == facts.BootstrapDesired && !facts.AllPublished {
		table, err := r.coordinate(ctx, network, obs)
		if err != nil {
			return ctrl.Result{}, err
		}
		if table != nil {
			obs.Table = table
			facts = obs.facts(network)
		}
	}

	if facts.SupportReady && facts.BootstrapPublished {
		if err := r.applyChildren(ctx, network, children.General...); err != nil {
			return ctrl.Result{}, err
		}
	}

	// Prune against the complete desired set, not just what this pass
	// applied: shrinking spec.peers removes the highest ordinals even
	// while the topology is still converging elsewhere.
	pruned, err := apply.New(r.Client, r.Scheme).Prune(
		ctx, network.Namespace, networkSelector(network.Name), children.All())
	if err != nil {
		logger.Error(err, "Failed to prune children")
		r.Recorder.Eventf(network, "Warning", "FailedPrune", "Failed to prune children: %v", err)
		return ctrl.Result{}, err
	}
	if pruned > 0 {
		r.Recorder.Eventf(network, "Normal", "Pruned", "Deleted %d children no longer in the topology", pruned)
	}

	phase := decidePhase(facts)
	if err := r.updateStatus(ctx, network, facts, obs.Table, phase); err != nil {
		logger.Error(err, "Failed to update status")
		return ctrl.Result{}, err
	}

	return r.nextResult(network, phase), nil
}

// validateSpec rejects specs that can never converge. The CRD schema
// enforces most bounds already; this guards the invariants the schema
// cannot express.
func validateSpec(network *v1alpha1.Network) error {
	if network.Spec.Peers < 1 || network.Spec.Peers > MaxPeers {
		return errdefs.InvalidSpec("spec.peers must be between 1 and %d, got %d", MaxPeers, network.Spec.Peers)
	}
	bootstrap := network.BootstrapReplicas()
	if bootstrap < 1 {
		return errdefs.InvalidSpec("spec.bootstrap.replicas must be at least 1, got %d", bootstrap)
	}
	if bootstrap > network.Spec.Peers {
		return errdefs.InvalidSpec("spec.bootstrap.replicas (%d) cannot exceed spec.peers (%d)", bootstrap, network.Spec.Peers)
	}
	if network.Spec.TTLSeconds != nil && *network.Spec.TTLSeconds <= 0 {
		return errdefs.InvalidSpec("spec.ttlSeconds must be positive, got %d", *network.Spec.TTLSeconds)
	}
	return nil
}

// reapExpired deletes a Network whose TTL has elapsed. Returns true when the
// deletion was issued; the cascade through owner references does the rest.
func (r *NetworkReconciler) reapExpired(ctx context.Context, network *v1alpha1.Network) (bool, error) {
	deadline := expirationTime(network)
	if deadline == nil || r.now().Before(deadline.Time) {
		return false, nil
	}

	r.Recorder.Eventf(network, "Normal", "Expired",
		"TTL of %ds elapsed, tearing the network down", *network.Spec.TTLSeconds)
	if err := r.Delete(ctx, network); err != nil && !errors.IsNotFound(err) {
		return false, fmt.Errorf("failed to delete expired Network: %w", err)
	}
	return true, nil
}

// ensureSecrets makes sure the admin key and anchor database credentials
// exist before any workload that mounts them is applied.
//
// Generated secrets are created once and never re-applied: the builders mint
// fresh random material on every call, and overwriting live credentials
// would wedge running peers. A user-named admin secret is theirs to manage;
// its absence parks the network, it is never created here.
func (r *NetworkReconciler) ensureSecrets(ctx context.Context, network *v1alpha1.Network) error {
	if network.Spec.PrivateKeySecret != nil && *network.Spec.PrivateKeySecret != "" {
		key := types.NamespacedName{Namespace: network.Namespace, Name: network.PrivateKeySecretName()}
		if err := r.Get(ctx, key, &corev1.Secret{}); err != nil {
			if errors.IsNotFound(err) {
				return errdefs.NotReady("admin key secret %q does not exist yet", key.Name)
			}
			return fmt.Errorf("failed to get admin key secret: %w", err)
		}
	} else if err := r.createSecretIfAbsent(ctx, network, BuildAdminSecret); err != nil {
		return err
	}

	if network.AnchorEnabled() {
		if err := r.createSecretIfAbsent(ctx, network, BuildAnchorAuthSecret); err != nil {
			return err
		}
	}
	return nil
}

func (r *NetworkReconciler) createSecretIfAbsent(
	ctx context.Context,
	network *v1alpha1.Network,
	build func(*v1alpha1.Network, *runtime.Scheme) (*corev1.Secret, error),
) error {
	desired, err := build(network, r.Scheme)
	if err != nil {
		return err
	}

	err = r.Get(ctx, client.ObjectKeyFromObject(desired), &corev1.Secret{})
	if err == nil {
		return nil
	}
	if !errors.IsNotFound(err) {
		return fmt.Errorf("failed to get Secret %s: %w", desired.Name, err)
	}

	if err := r.Create(ctx, desired); err != nil && !errors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create Secret %s: %w", desired.Name, err)
	}
	return nil
}

// childSet is everything a Network spec expands to, split by topology tier.
type childSet struct {
	Support   []client.Object
	Bootstrap []client.Object
	General   []client.Object

	// Table stands in for the published peer-table ConfigMap in the
	// prune keep-set. It is never applied from here; coordinate owns
	// its contents.
	Table client.Object
}

// All returns the complete desired set for pruning.
func (s childSet) All() []client.Object {
	all := make([]client.Object, 0, len(s.Support)+len(s.Bootstrap)+len(s.General)+1)
	all = append(all, s.Support...)
	all = append(all, s.Bootstrap...)
	all = append(all, s.General...)
	all = append(all, s.Table)
	return all
}

// buildChildren expands the Network spec into the desired child objects.
// Within each tier the order is mount dependencies first: ConfigMaps, then
// Services, then StatefulSets.
func buildChildren(network *v1alpha1.Network, scheme *runtime.Scheme) (childSet, error) {
	var set childSet

	if network.AnchorEnabled() {
		dbSvc, err := BuildAnchorDBService(network, scheme)
		if err != nil {
			return childSet{}, err
		}
		dbSts, err := BuildAnchorDBStatefulSet(network, scheme)
		if err != nil {
			return childSet{}, err
		}
		svc, err := BuildAnchorService(network, scheme)
		if err != nil {
			return childSet{}, err
		}
		sts, err := BuildAnchorStatefulSet(network, scheme)
		if err != nil {
			return childSet{}, err
		}
		set.Support = append(set.Support, dbSvc, dbSts, svc, sts)
	}

	if network.ChainRPCEnabled() {
		svc, err := BuildChainRPCService(network, scheme)
		if err != nil {
			return childSet{}, err
		}
		sts, err := BuildChainRPCStatefulSet(network, scheme)
		if err != nil {
			return childSet{}, err
		}
		set.Support = append(set.Support, svc, sts)
	}

	bootstrap := network.BootstrapReplicas()
	for i := int32(0); i < network.Spec.Peers; i++ {
		objs, err := buildPeer(network, i, scheme)
		if err != nil {
			return childSet{}, err
		}
		if i < bootstrap {
			set.Bootstrap = append(set.Bootstrap, objs...)
		} else {
			set.General = append(set.General, objs...)
		}
	}

	table, err := BuildPeersConfigMap(network, nil, scheme)
	if err != nil {
		return childSet{}, err
	}
	set.Table = table

	return set, nil
}

// buildPeer expands one peer ordinal into its ConfigMap, Service and
// StatefulSet.
func buildPeer(network *v1alpha1.Network, index int32, scheme *runtime.Scheme) ([]client.Object, error) {
	cm, err := BuildPeerEnvConfigMap(network, index, scheme)
	if err != nil {
		return nil, err
	}
	svc, err := BuildPeerService(network, index, scheme)
	if err != nil {
		return nil, err
	}
	sts, err := BuildPeerStatefulSet(network, index, scheme)
	if err != nil {
		return nil, err
	}
	return []client.Object{cm, svc, sts}, nil
}

// applyChildren server-side-applies objs in order, stopping at the first
// failure. Failures land on the Ready condition and as a Warning event
// before the error goes back to the scheduler for backoff.
func (r *NetworkReconciler) applyChildren(ctx context.Context, network *v1alpha1.Network, objs ...client.Object) error {
	if len(objs) == 0 {
		return nil
	}
	if err := apply.New(r.Client, r.Scheme).ApplyAll(ctx, objs...); err != nil {
		reason := "FailedApply"
		if errdefs.IsConflict(err) {
			reason = "FieldConflict"
		}
		r.Recorder.Eventf(network, "Warning", reason, "Failed to apply children: %v", err)
		if statusErr := r.markFailure(ctx, network, reason, err); statusErr != nil {
			log.FromContext(ctx).Error(statusErr, "Failed to record failure condition")
		}
		return err
	}
	return nil
}

// coordinate runs one peering pass: fetch the identity of every candidate,
// publish the assembled table, and return it. A NotReady outcome is not an
// error; the pass simply produces no table and the requeue retries.
func (r *NetworkReconciler) coordinate(ctx context.Context, network *v1alpha1.Network, obs *observation) ([]v1alpha1.PeerInfo, error) {
	ctx, span := monitoring.StartChildSpan(ctx, "Network.Peering")
	defer span.End()

	table, err := r.Coordinator.Coordinate(ctx, client.ObjectKeyFromObject(network), obs.candidates(network))
	if err != nil {
		if errdefs.IsNotReady(err) {
			monitoring.RecordPeeringNotReady(network.Name, network.Namespace)
			log.FromContext(ctx).Info("Peering deferred", "reason", err.Error())
			return nil, nil
		}
		monitoring.RecordSpanError(span, err)
		return nil, err
	}

	cm, err := BuildPeersConfigMap(network, table, r.Scheme)
	if err != nil {
		return nil, err
	}
	err = apply.New(r.Client, r.Scheme).Apply(ctx, cm)
	monitoring.RecordPeeringPublish(network.Name, network.Namespace, err)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		r.Recorder.Eventf(network, "Warning", "FailedApply", "Failed to publish peer table: %v", err)
		return nil, err
	}

	if len(table) != len(obs.Table) {
		r.Recorder.Eventf(network, "Normal", "PeersPublished",
			"Published peer table with %d of %d peers", len(table), network.Spec.Peers)
	}
	return table, nil
}

// nextResult schedules the following pass: a converging network polls on a
// fixed interval, a steady one sleeps until its TTL deadline or forever.
func (r *NetworkReconciler) nextResult(network *v1alpha1.Network, phase v1alpha1.NetworkPhase) ctrl.Result {
	var after time.Duration
	if phase != v1alpha1.NetworkPhaseSteady {
		after = convergenceInterval
	}

	if deadline := expirationTime(network); deadline != nil {
		untilExpiry := deadline.Time.Sub(r.now())
		if untilExpiry < time.Second {
			untilExpiry = time.Second
		}
		if after == 0 || untilExpiry < after {
			after = untilExpiry
		}
	}

	if after == 0 {
		return ctrl.Result{}
	}
	return ctrl.Result{RequeueAfter: after}
}

func (r *NetworkReconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now()
	}
	return time.Now()
}

// networkSelector matches every pruneable child of the named network.
func networkSelector(networkName string) labels.Selector {
	return labels.SelectorFromSet(labels.Set{metadata.LabelNetwork: networkName})
}

// SetupWithManager sets up the controller with the Manager.
func (r *NetworkReconciler) SetupWithManager(
	mgr ctrl.Manager,
	opts ...controller.Options,
) error {
	controllerOpts := controller.Options{}
	if len(opts) > 0 {
		controllerOpts = opts[0]
	}

	if r.Coordinator == nil {
		r.Coordinator = peering.New(rpc.NewHTTPClient(rpc.DefaultTimeout))
	}
	if r.Clock == nil {
		r.Clock = clock.RealClock{}
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.Network{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&corev1.Secret{}).
		WithOptions(controllerOpts).
		Complete(r)
}
