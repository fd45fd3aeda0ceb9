package simulation

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	clocktesting "k8s.io/utils/clock/testing"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/peering"
	"github.com/strandlab/strand-operator/pkg/rpc"
	"github.com/strandlab/strand-operator/pkg/testutil"
)

func TestMain(m *testing.M) {
	ctrl.SetLogger(logr.Discard())
	os.Exit(m.Run())
}

// simTestTime is the creation instant of every run in these tests; the fake
// clock starts there unless a case advances it.
var simTestTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeManagerRPC serves a scripted run state to completion polls.
type fakeManagerRPC struct {
	mu    sync.Mutex
	state string
	err   error
	polls int
}

func (f *fakeManagerRPC) RunStatus(context.Context, string) (*rpc.ManagerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	state := f.state
	if state == "" {
		state = rpc.RunStateRunning
	}
	return &rpc.ManagerStatus{State: state}, nil
}

func (f *fakeManagerRPC) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func baseSimulation() *v1alpha1.Simulation {
	return &v1alpha1.Simulation{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "loadtest",
			Namespace:         "default",
			UID:               "loadtest-uid",
			CreationTimestamp: metav1.NewTime(simTestTime),
		},
		Spec: v1alpha1.SimulationSpec{
			Scenario:   v1alpha1.ScenarioSteadyState,
			Users:      2,
			RunTime:    10,
			NetworkRef: v1alpha1.NetworkRef{Name: "testnet"},
		},
	}
}

// simWithRunID is a run past its first pass: the nonce is already minted.
func simWithRunID() *v1alpha1.Simulation {
	sim := baseSimulation()
	sim.Status.RunID = "test-run-id"
	return sim
}

// startedSimulation is a run in full flight.
func startedSimulation() *v1alpha1.Simulation {
	sim := simWithRunID()
	started := metav1.NewTime(simTestTime)
	sim.Status.Phase = v1alpha1.SimulationPhaseRunning
	sim.Status.StartedAt = &started
	sim.Status.Workers = sim.Spec.Users
	sim.Status.ReadyWorkers = sim.Spec.Users
	return sim
}

func steadyNetworkTable() []v1alpha1.PeerInfo {
	return []v1alpha1.PeerInfo{
		{Index: 0, ID: "12D3KooWAlpha", Bootstrap: true, RPCAddress: "http://testnet-bootstrap-0:5101", APIAddress: "http://testnet-bootstrap-0:5001"},
		{Index: 1, ID: "12D3KooWBeta", RPCAddress: "http://testnet-peer-1:5101", APIAddress: "http://testnet-peer-1:5001"},
		{Index: 2, ID: "12D3KooWGamma", RPCAddress: "http://testnet-peer-2:5101", APIAddress: "http://testnet-peer-2:5001"},
	}
}

// steadyNetworkObjects seeds the target network in Steady with a published
// three-peer table.
func steadyNetworkObjects(t *testing.T, namespace string) []client.Object {
	t.Helper()

	nw := &v1alpha1.Network{
		ObjectMeta: metav1.ObjectMeta{Name: "testnet", Namespace: namespace, UID: "testnet-uid"},
		Spec:       v1alpha1.NetworkSpec{Peers: 3},
		Status:     v1alpha1.NetworkStatus{Phase: v1alpha1.NetworkPhaseSteady},
	}

	payload, err := peering.EncodeTable(steadyNetworkTable())
	if err != nil {
		t.Fatalf("encoding peer table: %v", err)
	}
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      peering.ConfigMapName(nw.Name),
			Namespace: namespace,
		},
		Data: map[string]string{peering.ConfigMapKey: string(payload)},
	}

	return []client.Object{nw, cm}
}

// convergingNetworkObjects seeds the target network still short of Steady.
func convergingNetworkObjects(namespace string) []client.Object {
	return []client.Object{&v1alpha1.Network{
		ObjectMeta: metav1.ObjectMeta{Name: "testnet", Namespace: namespace, UID: "testnet-uid"},
		Spec:       v1alpha1.NetworkSpec{Peers: 3},
		Status:     v1alpha1.NetworkStatus{Phase: v1alpha1.NetworkPhaseProvisioningGeneralPeers},
	}}
}

func readyDeployment(t *testing.T, deployment *appsv1.Deployment, err error) *appsv1.Deployment {
	t.Helper()

	if err != nil {
		t.Fatalf("building Deployment: %v", err)
	}
	deployment.Status.Replicas = 1
	deployment.Status.ReadyReplicas = 1
	return deployment
}

func readyStatefulSet(t *testing.T, sts *appsv1.StatefulSet, err error) *appsv1.StatefulSet {
	t.Helper()

	if err != nil {
		t.Fatalf("building StatefulSet: %v", err)
	}
	sts.Status.Replicas = 1
	sts.Status.ReadyReplicas = 1
	return sts
}

// readyTelemetry builds the telemetry workloads already reporting ready.
func readyTelemetry(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
	t.Helper()

	return []client.Object{
		readyDeployment(t, BuildOtelDeployment(sim, scheme)),
		readyStatefulSet(t, BuildPrometheusStatefulSet(sim, scheme)),
		readyDeployment(t, BuildRedisDeployment(sim, scheme)),
	}
}

func readyManager(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
	t.Helper()

	return []client.Object{
		readyDeployment(t, BuildManagerDeployment(sim, "test-run-id", false, scheme)),
	}
}

func readyWorkers(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
	t.Helper()

	objs := make([]client.Object, 0, sim.Spec.Users)
	for i := int32(0); i < sim.Spec.Users; i++ {
		objs = append(objs, readyDeployment(t, BuildWorkerDeployment(sim, i, "test-run-id", 3, false, scheme)))
	}
	return objs
}

// crashingManagerPod fakes a kubelet-restarted manager pod with the given
// restart count.
func crashingManagerPod(sim *v1alpha1.Simulation, restarts int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ManagerName(sim.Name) + "-6b9f7c4d8-x2vkq",
			Namespace: sim.Namespace,
			Labels:    simLabels(sim, ManagerComponentName),
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{RestartCount: restarts}},
		},
	}
}

func getSimulation(t *testing.T, c client.Client, sim *v1alpha1.Simulation) *v1alpha1.Simulation {
	t.Helper()

	got := &v1alpha1.Simulation{}
	if err := c.Get(t.Context(), client.ObjectKeyFromObject(sim), got); err != nil {
		t.Fatalf("getting Simulation: %v", err)
	}
	return got
}

func getDeployment(t *testing.T, c client.Client, namespace, name string) *appsv1.Deployment {
	t.Helper()

	deployment := &appsv1.Deployment{}
	if err := c.Get(t.Context(), types.NamespacedName{Namespace: namespace, Name: name}, deployment); err != nil {
		t.Fatalf("getting Deployment %s: %v", name, err)
	}
	return deployment
}

func assertAbsent(t *testing.T, c client.Client, namespace, name string, obj client.Object) {
	t.Helper()

	err := c.Get(t.Context(), types.NamespacedName{Namespace: namespace, Name: name}, obj)
	if !apierrors.IsNotFound(err) {
		t.Errorf("expected %s to be absent, got err=%v", name, err)
	}
}

func assertPresent(t *testing.T, c client.Client, namespace, name string, obj client.Object) {
	t.Helper()

	if err := c.Get(t.Context(), types.NamespacedName{Namespace: namespace, Name: name}, obj); err != nil {
		t.Errorf("expected %s to exist: %v", name, err)
	}
}

func TestSimulationReconcile(t *testing.T) {
	tests := map[string]struct {
		sim         *v1alpha1.Simulation
		skipSimSeed bool
		// seed returns extra objects placed in the cluster before the pass.
		seed          func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object
		failureConfig *testutil.FailureConfig
		managerState  string
		managerErr    error
		clockAt       time.Time

		wantErrSubstr string
		wantResult    ctrl.Result
		wantPhase     v1alpha1.SimulationPhase
		wantEvents    []string
		validate      func(t *testing.T, c client.Client, sim *v1alpha1.Simulation)
	}{
		"simulation not found is a no-op": {
			sim:         baseSimulation(),
			skipSimSeed: true,
			wantResult:  ctrl.Result{},
		},
		"invalid spec parks the run in pending": {
			sim: func() *v1alpha1.Simulation {
				sim := baseSimulation()
				sim.Spec.Users = 0
				return sim
			}(),
			wantResult: ctrl.Result{},
			wantPhase:  v1alpha1.SimulationPhasePending,
			wantEvents: []string{"InvalidSpec"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				got := getSimulation(t, c, sim)
				cond := meta.FindStatusCondition(got.Status.Conditions, ConditionReady)
				if cond == nil || cond.Reason != ReasonSpecInvalid {
					t.Errorf("Ready condition = %+v, want reason %q", cond, ReasonSpecInvalid)
				}
				// Invalid runs get no nonce and no children.
				if got.Status.RunID != "" {
					t.Errorf("RunID = %q, want empty", got.Status.RunID)
				}
				assertAbsent(t, c, sim.Namespace, OtelName(sim.Name), &appsv1.Deployment{})
			},
		},
		"fresh run mints an id and provisions telemetry": {
			sim:        baseSimulation(),
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhasePending,
			wantEvents: []string{"PhaseChange"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				assertPresent(t, c, sim.Namespace, OtelName(sim.Name), &appsv1.Deployment{})
				assertPresent(t, c, sim.Namespace, PrometheusName(sim.Name), &appsv1.StatefulSet{})
				assertPresent(t, c, sim.Namespace, RedisName(sim.Name), &appsv1.Deployment{})
				// Runners wait for the network and the telemetry tier.
				assertAbsent(t, c, sim.Namespace, ManagerName(sim.Name), &appsv1.Deployment{})
				assertAbsent(t, c, sim.Namespace, RunnerPeersName(sim.Name), &corev1.ConfigMap{})

				got := getSimulation(t, c, sim)
				if got.Status.RunID == "" {
					t.Error("RunID not minted")
				}
				if got.Status.Workers != 2 || got.Status.ReadyWorkers != 0 {
					t.Errorf("workers = %d/%d, want 0/2",
						got.Status.ReadyWorkers, got.Status.Workers)
				}
			},
		},
		"network steady with telemetry converging holds the manager": {
			sim: simWithRunID(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				return steadyNetworkObjects(t, sim.Namespace)
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseProvisioningTelemetry,
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				assertAbsent(t, c, sim.Namespace, ManagerName(sim.Name), &appsv1.Deployment{})
			},
		},
		"telemetry ready mirrors the table and starts the manager": {
			sim: simWithRunID(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				return append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseStartingManager,
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				assertPresent(t, c, sim.Namespace, ManagerName(sim.Name), &corev1.Service{})
				assertAbsent(t, c, sim.Namespace, WorkerName(sim.Name, 0), &appsv1.Deployment{})

				manager := getDeployment(t, c, sim.Namespace, ManagerName(sim.Name))
				for _, v := range manager.Spec.Template.Spec.Containers[0].Env {
					if v.Name == "SIMULATE_NONCE" && v.Value != "test-run-id" {
						t.Errorf("manager nonce = %q, want the persisted run ID", v.Value)
					}
				}

				mirror := &corev1.ConfigMap{}
				if err := c.Get(t.Context(), types.NamespacedName{
					Namespace: sim.Namespace,
					Name:      RunnerPeersName(sim.Name),
				}, mirror); err != nil {
					t.Fatalf("getting mirror ConfigMap: %v", err)
				}
				table, err := peering.DecodeTable([]byte(mirror.Data[peering.ConfigMapKey]))
				if err != nil {
					t.Fatalf("decoding mirrored table: %v", err)
				}
				if diff := cmp.Diff(steadyNetworkTable(), table); diff != "" {
					t.Errorf("mirrored table mismatch (-want +got):\n%s", diff)
				}
			},
		},
		"manager ready launches the workers": {
			sim: simWithRunID(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				return append(objs, readyManager(t, sim, scheme)...)
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseStartingWorkers,
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				assertPresent(t, c, sim.Namespace, WorkerName(sim.Name, 0), &appsv1.Deployment{})
				assertPresent(t, c, sim.Namespace, WorkerName(sim.Name, 1), &appsv1.Deployment{})

				if got := getSimulation(t, c, sim); got.Status.StartedAt != nil {
					t.Errorf("StartedAt = %v, want unset before the fleet is ready", got.Status.StartedAt)
				}
			},
		},
		"full fleet stamps startedAt and reports running": {
			sim: simWithRunID(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)
				return append(objs, readyWorkers(t, sim, scheme)...)
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseRunning,
			wantEvents: []string{"PhaseChange"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				got := getSimulation(t, c, sim)
				if got.Status.StartedAt == nil || !got.Status.StartedAt.Time.Equal(simTestTime) {
					t.Errorf("StartedAt = %v, want %v", got.Status.StartedAt, simTestTime)
				}
				cond := meta.FindStatusCondition(got.Status.Conditions, ConditionReady)
				if cond == nil || cond.Status != metav1.ConditionTrue || cond.Reason != ReasonAllWorkersReady {
					t.Errorf("Ready condition = %+v, want True/%s", cond, ReasonAllWorkersReady)
				}
			},
		},
		"declared run time elapsing completes the run": {
			sim: startedSimulation(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)
				return append(objs, readyWorkers(t, sim, scheme)...)
			},
			clockAt:    simTestTime.Add(10 * time.Minute),
			wantResult: ctrl.Result{},
			wantPhase:  v1alpha1.SimulationPhaseCompleted,
			wantEvents: []string{"RunCompleted", "declared run time"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				// Runners are scaled to zero, not deleted: logs stay
				// retrievable for postmortem.
				manager := getDeployment(t, c, sim.Namespace, ManagerName(sim.Name))
				if got := *manager.Spec.Replicas; got != 0 {
					t.Errorf("manager replicas = %d, want 0", got)
				}
				worker := getDeployment(t, c, sim.Namespace, WorkerName(sim.Name, 1))
				if got := *worker.Spec.Replicas; got != 0 {
					t.Errorf("worker replicas = %d, want 0", got)
				}
				otel := getDeployment(t, c, sim.Namespace, OtelName(sim.Name))
				if got := *otel.Spec.Replicas; got != 1 {
					t.Errorf("otel replicas = %d, want telemetry untouched", got)
				}

				got := getSimulation(t, c, sim)
				if got.Status.CompletedAt == nil || !got.Status.CompletedAt.Time.Equal(simTestTime.Add(10*time.Minute)) {
					t.Errorf("CompletedAt = %v, want the completion instant", got.Status.CompletedAt)
				}
				cond := meta.FindStatusCondition(got.Status.Conditions, ConditionComplete)
				if cond == nil || cond.Status != metav1.ConditionTrue || cond.Reason != ReasonRunCompleted {
					t.Errorf("Complete condition = %+v, want True/%s", cond, ReasonRunCompleted)
				}
			},
		},
		"manager completion signal ends the run early": {
			sim: startedSimulation(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)
				return append(objs, readyWorkers(t, sim, scheme)...)
			},
			clockAt:      simTestTime.Add(1 * time.Minute),
			managerState: rpc.RunStateCompleted,
			wantResult:   ctrl.Result{},
			wantPhase:    v1alpha1.SimulationPhaseCompleted,
			wantEvents:   []string{"RunCompleted", "manager reported"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				manager := getDeployment(t, c, sim.Namespace, ManagerName(sim.Name))
				if got := *manager.Spec.Replicas; got != 0 {
					t.Errorf("manager replicas = %d, want 0", got)
				}
			},
		},
		"manager poll failures never end a run": {
			sim: startedSimulation(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)
				return append(objs, readyWorkers(t, sim, scheme)...)
			},
			clockAt:    simTestTime.Add(1 * time.Minute),
			managerErr: testutil.ErrInjected,
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseRunning,
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				manager := getDeployment(t, c, sim.Namespace, ManagerName(sim.Name))
				if got := *manager.Spec.Replicas; got != 1 {
					t.Errorf("manager replicas = %d, want the run still live", got)
				}
			},
		},
		"network never settling fails the run": {
			sim: baseSimulation(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				return convergingNetworkObjects(sim.Namespace)
			},
			clockAt:    simTestTime.Add(NetworkWaitTimeout + time.Minute),
			wantResult: ctrl.Result{},
			wantPhase:  v1alpha1.SimulationPhaseFailed,
			wantEvents: []string{"RunFailed", "did not reach Steady"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				got := getSimulation(t, c, sim)
				if got.Status.CompletedAt == nil {
					t.Error("CompletedAt not stamped on failure")
				}
				cond := meta.FindStatusCondition(got.Status.Conditions, ConditionComplete)
				if cond == nil || cond.Reason != ReasonNetworkTimeout {
					t.Errorf("Complete condition = %+v, want reason %q", cond, ReasonNetworkTimeout)
				}
				assertAbsent(t, c, sim.Namespace, ManagerName(sim.Name), &appsv1.Deployment{})
			},
		},
		"missing network fails the run after the wait": {
			sim:        baseSimulation(),
			clockAt:    simTestTime.Add(NetworkWaitTimeout + time.Minute),
			wantResult: ctrl.Result{},
			wantPhase:  v1alpha1.SimulationPhaseFailed,
			wantEvents: []string{"RunFailed", "not found in namespace"},
		},
		"manager crash loop fails the run": {
			sim: simWithRunID(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)
				return append(objs, crashingManagerPod(sim, ManagerRestartBudget+1))
			},
			wantResult: ctrl.Result{},
			wantPhase:  v1alpha1.SimulationPhaseFailed,
			wantEvents: []string{"RunFailed", "restarted 5 times"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				got := getSimulation(t, c, sim)
				cond := meta.FindStatusCondition(got.Status.Conditions, ConditionComplete)
				if cond == nil || cond.Reason != ReasonManagerCrashLoop {
					t.Errorf("Complete condition = %+v, want reason %q", cond, ReasonManagerCrashLoop)
				}
			},
		},
		"restarts within budget keep the run alive": {
			sim: simWithRunID(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)
				return append(objs, crashingManagerPod(sim, ManagerRestartBudget))
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseStartingWorkers,
		},
		"terminal run is never touched": {
			sim: func() *v1alpha1.Simulation {
				sim := baseSimulation()
				completed := metav1.NewTime(simTestTime)
				sim.Status.Phase = v1alpha1.SimulationPhaseCompleted
				sim.Status.RunID = "stale-run"
				sim.Status.CompletedAt = &completed
				return sim
			}(),
			wantResult: ctrl.Result{},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				assertAbsent(t, c, sim.Namespace, OtelName(sim.Name), &appsv1.Deployment{})
				if got := getSimulation(t, c, sim); got.Status.RunID != "stale-run" {
					t.Errorf("RunID = %q, want the stale run untouched", got.Status.RunID)
				}
			},
		},
		"cross-namespace network reference resolves and mirrors": {
			sim: func() *v1alpha1.Simulation {
				sim := simWithRunID()
				sim.Spec.NetworkRef.Namespace = "nets"
				return sim
			}(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				return append(steadyNetworkObjects(t, "nets"), readyTelemetry(t, sim, scheme)...)
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseStartingManager,
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				// The mirror lands in the run's own namespace; runners never
				// mount across namespaces.
				mirror := &corev1.ConfigMap{}
				if err := c.Get(t.Context(), types.NamespacedName{
					Namespace: "default",
					Name:      RunnerPeersName(sim.Name),
				}, mirror); err != nil {
					t.Fatalf("getting mirror ConfigMap: %v", err)
				}
				table, err := peering.DecodeTable([]byte(mirror.Data[peering.ConfigMapKey]))
				if err != nil || len(table) != 3 {
					t.Errorf("mirrored table = %d entries, err=%v, want 3", len(table), err)
				}
			},
		},
		"shrinking users prunes the highest worker ordinals": {
			sim: func() *v1alpha1.Simulation {
				sim := simWithRunID()
				sim.Spec.Users = 1
				return sim
			}(),
			seed: func(t *testing.T, sim *v1alpha1.Simulation, scheme *runtime.Scheme) []client.Object {
				objs := append(steadyNetworkObjects(t, sim.Namespace), readyTelemetry(t, sim, scheme)...)
				objs = append(objs, readyManager(t, sim, scheme)...)

				// Residue of the spec before it shrank.
				wide := simWithRunID()
				for i := int32(0); i < 2; i++ {
					worker, err := BuildWorkerDeployment(wide, i, "test-run-id", 3, false, scheme)
					if err != nil {
						t.Fatalf("building stale worker: %v", err)
					}
					objs = append(objs, worker)
				}
				return objs
			},
			wantResult: ctrl.Result{RequeueAfter: convergenceInterval},
			wantPhase:  v1alpha1.SimulationPhaseStartingWorkers,
			wantEvents: []string{"Pruned"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				assertPresent(t, c, sim.Namespace, WorkerName(sim.Name, 0), &appsv1.Deployment{})
				assertAbsent(t, c, sim.Namespace, WorkerName(sim.Name, 1), &appsv1.Deployment{})
			},
		},
		"apply failure surfaces condition and event": {
			sim: baseSimulation(),
			failureConfig: &testutil.FailureConfig{
				OnPatch: testutil.FailOnObjectName(OtelConfigMapName("loadtest"), testutil.ErrInjected),
			},
			wantErrSubstr: "injected test error",
			wantEvents:    []string{"FailedApply"},
			validate: func(t *testing.T, c client.Client, sim *v1alpha1.Simulation) {
				got := getSimulation(t, c, sim)
				cond := meta.FindStatusCondition(got.Status.Conditions, ConditionReady)
				if cond == nil || cond.Reason != "FailedApply" {
					t.Errorf("Ready condition = %+v, want reason FailedApply", cond)
				}
			},
		},
		"status patch failure returns the error": {
			sim: baseSimulation(),
			failureConfig: &testutil.FailureConfig{
				OnStatusPatch: func(client.Object) error { return testutil.ErrInjected },
			},
			wantErrSubstr: "failed to patch status",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			scheme := testutil.Scheme(t)

			objects := []client.Object{}
			if !tc.skipSimSeed {
				objects = append(objects, tc.sim)
			}
			if tc.seed != nil {
				objects = append(objects, tc.seed(t, tc.sim, scheme)...)
			}
			baseClient := testutil.NewClient(t, objects...)

			finalClient := baseClient
			if tc.failureConfig != nil {
				finalClient = testutil.NewFakeClientWithFailures(baseClient, tc.failureConfig)
			}

			clockAt := tc.clockAt
			if clockAt.IsZero() {
				clockAt = simTestTime
			}

			fakeRecorder := record.NewFakeRecorder(100)
			reconciler := &SimulationReconciler{
				Client:     finalClient,
				Scheme:     scheme,
				Recorder:   fakeRecorder,
				ManagerRPC: &fakeManagerRPC{state: tc.managerState, err: tc.managerErr},
				Clock:      clocktesting.NewFakePassiveClock(clockAt),
			}

			req := ctrl.Request{NamespacedName: types.NamespacedName{
				Name:      tc.sim.Name,
				Namespace: tc.sim.Namespace,
			}}

			result, err := reconciler.Reconcile(t.Context(), req)

			if tc.wantErrSubstr != "" {
				if err == nil {
					t.Fatal("expected error from Reconcile, got nil")
				}
				if !strings.Contains(err.Error(), tc.wantErrSubstr) {
					t.Errorf("error = %q, want substring %q", err.Error(), tc.wantErrSubstr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error from Reconcile: %v", err)
				}
				if result != tc.wantResult {
					t.Errorf("result = %+v, want %+v", result, tc.wantResult)
				}
			}

			if tc.wantPhase != "" {
				got := getSimulation(t, baseClient, tc.sim)
				if got.Status.Phase != tc.wantPhase {
					t.Errorf("phase = %q, want %q", got.Status.Phase, tc.wantPhase)
				}
			}

			if len(tc.wantEvents) > 0 {
				close(fakeRecorder.Events)
				var gotEvents []string
				for evt := range fakeRecorder.Events {
					gotEvents = append(gotEvents, evt)
				}
				for _, want := range tc.wantEvents {
					found := false
					for _, got := range gotEvents {
						if strings.Contains(got, want) {
							found = true
							break
						}
					}
					if !found {
						t.Errorf("expected event containing %q not found, got: %v", want, gotEvents)
					}
				}
			}

			if tc.validate != nil {
				tc.validate(t, baseClient, tc.sim)
			}
		})
	}
}

// TestSimulationReconcile_WalksLifecycle drives one run through the whole
// state sequence, flipping child readiness between passes the way kubelet
// would and advancing the clock past the declared run time.
func TestSimulationReconcile_WalksLifecycle(t *testing.T) {
	scheme := testutil.Scheme(t)
	sim := baseSimulation()

	objects := append([]client.Object{sim}, convergingNetworkObjects(sim.Namespace)...)
	baseClient := testutil.NewClient(t, objects...)

	fakeClock := clocktesting.NewFakePassiveClock(simTestTime)
	managerRPC := &fakeManagerRPC{}
	reconciler := &SimulationReconciler{
		Client:     baseClient,
		Scheme:     scheme,
		Recorder:   record.NewFakeRecorder(100),
		ManagerRPC: managerRPC,
		Clock:      fakeClock,
	}
	req := ctrl.Request{NamespacedName: client.ObjectKeyFromObject(sim)}

	reconcile := func(step string) ctrl.Result {
		t.Helper()
		result, err := reconciler.Reconcile(t.Context(), req)
		if err != nil {
			t.Fatalf("%s: Reconcile() error = %v", step, err)
		}
		return result
	}

	markDeploymentReady := func(name string) {
		t.Helper()
		deployment := getDeployment(t, baseClient, sim.Namespace, name)
		deployment.Status.Replicas = 1
		deployment.Status.ReadyReplicas = 1
		if err := baseClient.Update(t.Context(), deployment); err != nil {
			t.Fatalf("marking %s ready: %v", name, err)
		}
	}

	markStatefulSetReady := func(name string) {
		t.Helper()
		sts := &appsv1.StatefulSet{}
		key := types.NamespacedName{Namespace: sim.Namespace, Name: name}
		if err := baseClient.Get(t.Context(), key, sts); err != nil {
			t.Fatalf("getting %s: %v", name, err)
		}
		sts.Status.Replicas = 1
		sts.Status.ReadyReplicas = 1
		if err := baseClient.Update(t.Context(), sts); err != nil {
			t.Fatalf("marking %s ready: %v", name, err)
		}
	}

	phase := func() v1alpha1.SimulationPhase {
		t.Helper()
		return getSimulation(t, baseClient, sim).Status.Phase
	}

	// Pass 1: the target network is still converging. Telemetry goes out,
	// the run waits.
	if result := reconcile("pass 1"); result.RequeueAfter != convergenceInterval {
		t.Errorf("pass 1: RequeueAfter = %v, want %v", result.RequeueAfter, convergenceInterval)
	}
	if got := phase(); got != v1alpha1.SimulationPhasePending {
		t.Fatalf("pass 1: phase = %q, want %q", got, v1alpha1.SimulationPhasePending)
	}
	assertPresent(t, baseClient, sim.Namespace, OtelName(sim.Name), &appsv1.Deployment{})
	assertAbsent(t, baseClient, sim.Namespace, ManagerName(sim.Name), &appsv1.Deployment{})
	runID := getSimulation(t, baseClient, sim).Status.RunID
	if runID == "" {
		t.Fatal("pass 1: RunID not minted")
	}

	// The network settles and publishes its table.
	for _, obj := range steadyNetworkObjects(t, sim.Namespace) {
		if nw, ok := obj.(*v1alpha1.Network); ok {
			existing := &v1alpha1.Network{}
			if err := baseClient.Get(t.Context(), client.ObjectKeyFromObject(nw), existing); err != nil {
				t.Fatalf("getting network: %v", err)
			}
			existing.Status.Phase = v1alpha1.NetworkPhaseSteady
			if err := baseClient.Status().Update(t.Context(), existing); err != nil {
				t.Fatalf("settling network: %v", err)
			}
			continue
		}
		if err := baseClient.Create(t.Context(), obj); err != nil {
			t.Fatalf("publishing peer table: %v", err)
		}
	}

	// Pass 2: network steady, telemetry still coming up.
	reconcile("pass 2")
	if got := phase(); got != v1alpha1.SimulationPhaseProvisioningTelemetry {
		t.Fatalf("pass 2: phase = %q, want %q", got, v1alpha1.SimulationPhaseProvisioningTelemetry)
	}

	// Pass 3: telemetry ready, the manager goes out.
	markDeploymentReady(OtelName(sim.Name))
	markStatefulSetReady(PrometheusName(sim.Name))
	markDeploymentReady(RedisName(sim.Name))
	reconcile("pass 3")
	if got := phase(); got != v1alpha1.SimulationPhaseStartingManager {
		t.Fatalf("pass 3: phase = %q, want %q", got, v1alpha1.SimulationPhaseStartingManager)
	}
	assertPresent(t, baseClient, sim.Namespace, RunnerPeersName(sim.Name), &corev1.ConfigMap{})
	assertPresent(t, baseClient, sim.Namespace, ManagerName(sim.Name), &appsv1.Deployment{})
	if got := getSimulation(t, baseClient, sim).Status.RunID; got != runID {
		t.Fatalf("pass 3: RunID changed from %q to %q, want minted once", runID, got)
	}

	// Pass 4: manager ready, workers go out.
	markDeploymentReady(ManagerName(sim.Name))
	reconcile("pass 4")
	if got := phase(); got != v1alpha1.SimulationPhaseStartingWorkers {
		t.Fatalf("pass 4: phase = %q, want %q", got, v1alpha1.SimulationPhaseStartingWorkers)
	}
	assertPresent(t, baseClient, sim.Namespace, WorkerName(sim.Name, 0), &appsv1.Deployment{})
	assertPresent(t, baseClient, sim.Namespace, WorkerName(sim.Name, 1), &appsv1.Deployment{})

	// Pass 5: full fleet ready, the run starts.
	markDeploymentReady(WorkerName(sim.Name, 0))
	markDeploymentReady(WorkerName(sim.Name, 1))
	reconcile("pass 5")
	if got := phase(); got != v1alpha1.SimulationPhaseRunning {
		t.Fatalf("pass 5: phase = %q, want %q", got, v1alpha1.SimulationPhaseRunning)
	}
	started := getSimulation(t, baseClient, sim).Status.StartedAt
	if started == nil || !started.Time.Equal(simTestTime) {
		t.Fatalf("pass 5: StartedAt = %v, want %v", started, simTestTime)
	}

	// Pass 6: mid-run poll. The manager still reports running, so nothing
	// ends.
	fakeClock.SetTime(simTestTime.Add(time.Minute))
	reconcile("pass 6")
	if got := phase(); got != v1alpha1.SimulationPhaseRunning {
		t.Fatalf("pass 6: phase = %q, want %q", got, v1alpha1.SimulationPhaseRunning)
	}
	if got := managerRPC.pollCount(); got != 1 {
		t.Fatalf("pass 6: manager polled %d times, want 1", got)
	}

	// Pass 7: the declared run time elapses. The run completes and the
	// runners scale to zero without a poll.
	fakeClock.SetTime(simTestTime.Add(10*time.Minute + time.Second))
	if result := reconcile("pass 7"); result != (ctrl.Result{}) {
		t.Errorf("pass 7: result = %+v, want zero (terminal runs do not poll)", result)
	}
	if got := phase(); got != v1alpha1.SimulationPhaseCompleted {
		t.Fatalf("pass 7: phase = %q, want %q", got, v1alpha1.SimulationPhaseCompleted)
	}
	if got := managerRPC.pollCount(); got != 1 {
		t.Errorf("pass 7: manager polled %d times, want the clock to win without a poll", got)
	}
	manager := getDeployment(t, baseClient, sim.Namespace, ManagerName(sim.Name))
	if got := *manager.Spec.Replicas; got != 0 {
		t.Errorf("pass 7: manager replicas = %d, want 0", got)
	}
	otel := getDeployment(t, baseClient, sim.Namespace, OtelName(sim.Name))
	if got := *otel.Spec.Replicas; got != 1 {
		t.Errorf("pass 7: otel replicas = %d, want telemetry untouched", got)
	}

	// Pass 8: terminal runs are inert.
	if result := reconcile("pass 8"); result != (ctrl.Result{}) {
		t.Errorf("pass 8: result = %+v, want zero", result)
	}
	if got := managerRPC.pollCount(); got != 1 {
		t.Errorf("pass 8: manager polled %d times after completion, want none", got)
	}
}

// TestSimulationReconcile_SecondPassIsStable re-runs a fully converged run
// and checks that nothing about the children changes.
func TestSimulationReconcile_SecondPassIsStable(t *testing.T) {
	scheme := testutil.Scheme(t)
	sim := simWithRunID()

	objects := append([]client.Object{sim}, steadyNetworkObjects(t, sim.Namespace)...)
	objects = append(objects, readyTelemetry(t, sim, scheme)...)
	objects = append(objects, readyManager(t, sim, scheme)...)
	objects = append(objects, readyWorkers(t, sim, scheme)...)
	baseClient := testutil.NewClient(t, objects...)

	fakeRecorder := record.NewFakeRecorder(100)
	reconciler := &SimulationReconciler{
		Client:     baseClient,
		Scheme:     scheme,
		Recorder:   fakeRecorder,
		ManagerRPC: &fakeManagerRPC{},
		Clock:      clocktesting.NewFakePassiveClock(simTestTime),
	}
	req := ctrl.Request{NamespacedName: client.ObjectKeyFromObject(sim)}

	snapshot := func() map[string]appsv1.DeploymentSpec {
		t.Helper()
		list := &appsv1.DeploymentList{}
		if err := baseClient.List(t.Context(), list, client.InNamespace(sim.Namespace)); err != nil {
			t.Fatalf("listing Deployments: %v", err)
		}
		specs := make(map[string]appsv1.DeploymentSpec, len(list.Items))
		for _, deployment := range list.Items {
			specs[deployment.Name] = deployment.Spec
		}
		return specs
	}

	if _, err := reconciler.Reconcile(t.Context(), req); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := snapshot()

	if _, err := reconciler.Reconcile(t.Context(), req); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := snapshot()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("children changed between passes (-first +second):\n%s", diff)
	}

	got := getSimulation(t, baseClient, sim)
	if got.Status.Phase != v1alpha1.SimulationPhaseRunning {
		t.Errorf("phase = %q, want %q", got.Status.Phase, v1alpha1.SimulationPhaseRunning)
	}

	// The fleet was ready from the first pass, so Running is entered once.
	close(fakeRecorder.Events)
	changes := 0
	for evt := range fakeRecorder.Events {
		if strings.Contains(evt, "PhaseChange") {
			changes++
		}
	}
	if changes != 1 {
		t.Errorf("PhaseChange events = %d, want exactly 1", changes)
	}
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate  func(sim *v1alpha1.Simulation)
		wantErr bool
	}{
		"defaults are valid": {
			mutate: func(*v1alpha1.Simulation) {},
		},
		"zero users": {
			mutate:  func(sim *v1alpha1.Simulation) { sim.Spec.Users = 0 },
			wantErr: true,
		},
		"users beyond the batch cap": {
			mutate:  func(sim *v1alpha1.Simulation) { sim.Spec.Users = MaxWorkers + 1 },
			wantErr: true,
		},
		"users at the batch cap": {
			mutate: func(sim *v1alpha1.Simulation) { sim.Spec.Users = MaxWorkers },
		},
		"zero run time": {
			mutate:  func(sim *v1alpha1.Simulation) { sim.Spec.RunTime = 0 },
			wantErr: true,
		},
		"unknown scenario": {
			mutate:  func(sim *v1alpha1.Simulation) { sim.Spec.Scenario = "chaos" },
			wantErr: true,
		},
		"missing network reference": {
			mutate:  func(sim *v1alpha1.Simulation) { sim.Spec.NetworkRef.Name = "" },
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			sim := baseSimulation()
			tc.mutate(sim)

			err := validateSpec(sim)
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestObservationFacts(t *testing.T) {
	t.Parallel()

	sim := baseSimulation()

	tests := map[string]struct {
		obs  observation
		want runFacts
	}{
		"steady network with a table is ready": {
			obs: observation{
				NetworkFound:  true,
				NetworkSteady: true,
				Table:         steadyNetworkTable(),
			},
			want: runFacts{NetworkReady: true, WorkersDesired: 2},
		},
		"steady network without a table is not": {
			obs: observation{
				NetworkFound:  true,
				NetworkSteady: true,
			},
			want: runFacts{WorkersDesired: 2},
		},
		"converging network with a table is not": {
			obs: observation{
				NetworkFound: true,
				Table:        steadyNetworkTable(),
			},
			want: runFacts{WorkersDesired: 2},
		},
		"readiness flows through": {
			obs: observation{
				NetworkFound:   true,
				NetworkSteady:  true,
				Table:          steadyNetworkTable(),
				TelemetryReady: true,
				ManagerReady:   true,
				WorkersReady:   1,
			},
			want: runFacts{
				NetworkReady:   true,
				TelemetryReady: true,
				ManagerReady:   true,
				WorkersDesired: 2,
				WorkersReady:   1,
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tc.want, tc.obs.facts(sim)); diff != "" {
				t.Errorf("facts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
