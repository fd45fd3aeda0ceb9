package simulation

import (
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/peering"
	"github.com/strandlab/strand-operator/pkg/util/metadata"
)

// workerLabels builds the label set for one worker workload. The per-ordinal
// index label keeps every worker Deployment selector disjoint.
func workerLabels(sim *v1alpha1.Simulation, index int32) map[string]string {
	labels := simLabels(sim, WorkerComponentName)
	labels[metadata.LabelWorkerIndex] = strconv.FormatInt(int64(index), 10)
	return labels
}

// BuildRunnerPeersConfigMap mirrors the target network's peer table into the
// simulation's namespace. Runners always mount the mirror, never the
// network's own ConfigMap, so a run can target a network in another
// namespace.
func BuildRunnerPeersConfigMap(
	sim *v1alpha1.Simulation,
	table []v1alpha1.PeerInfo,
	scheme *runtime.Scheme,
) (*corev1.ConfigMap, error) {
	payload, err := peering.EncodeTable(table)
	if err != nil {
		return nil, err
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      RunnerPeersName(sim.Name),
			Namespace: sim.Namespace,
			Labels:    simLabels(sim, "peers"),
		},
		Data: map[string]string{
			peering.ConfigMapKey: string(payload),
		},
	}

	if err := ctrl.SetControllerReference(sim, cm, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return cm, nil
}

// runnerEnv builds the environment shared by the manager and every worker.
// The nonce ties all metrics and log lines of one run together.
func runnerEnv(sim *v1alpha1.Simulation, runID string) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "RUNNER_OTLP_ENDPOINT", Value: OtelEndpoint(sim)},
		{Name: "RUNNER_LOG_LEVEL", Value: "info"},
		{Name: "SIMULATE_SCENARIO", Value: string(sim.Spec.Scenario)},
		{Name: "SIMULATE_NONCE", Value: runID},
		{Name: "SIMULATE_PEERS_PATH", Value: PeersMountPath + "/" + peering.ConfigMapKey},
		{Name: "SIMULATE_USERS", Value: strconv.FormatInt(int64(sim.Spec.Users), 10)},
		{Name: "SIMULATE_RUN_TIME", Value: fmt.Sprintf("%dm", sim.Spec.RunTime)},
	}
	if sim.Spec.ThrottleRPS != nil {
		env = append(env, corev1.EnvVar{
			Name:  "SIMULATE_THROTTLE_RPS",
			Value: strconv.FormatInt(int64(*sim.Spec.ThrottleRPS), 10),
		})
	}
	return env
}

func runnerReplicas(scaleZero bool) *int32 {
	if scaleZero {
		return ptr.To(int32(0))
	}
	return ptr.To(int32(1))
}

func runnerPeersVolume(sim *v1alpha1.Simulation) corev1.Volume {
	return corev1.Volume{
		Name: PeersVolumeName,
		VolumeSource: corev1.VolumeSource{
			ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{
					Name: RunnerPeersName(sim.Name),
				},
			},
		},
	}
}

// BuildManagerDeployment creates the run's manager. The mirror ConfigMap is
// published before the manager is applied, so its volume is not optional: a
// manager pod without a peer table is a bug, not a race.
func BuildManagerDeployment(
	sim *v1alpha1.Simulation,
	runID string,
	scaleZero bool,
	scheme *runtime.Scheme,
) (*appsv1.Deployment, error) {
	name := ManagerName(sim.Name)
	labels := simLabels(sim, ManagerComponentName)

	env := append(runnerEnv(sim, runID),
		corev1.EnvVar{Name: "SIMULATE_MANAGER", Value: "true"},
		corev1.EnvVar{Name: "SIMULATE_TARGET_PEER", Value: "0"},
	)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: runnerReplicas(scaleZero),
			Selector: &metav1.LabelSelector{
				MatchLabels: labels,
			},
			// Two live managers would run the scenario twice.
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RecreateDeploymentStrategyType,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:      "strand-runner",
							Image:     DefaultRunnerImage,
							Resources: defaultManagerResources(),
							Env:       env,
							Ports: []corev1.ContainerPort{
								{Name: "manager", ContainerPort: ManagerPort, Protocol: corev1.ProtocolTCP},
							},
							ReadinessProbe: &corev1.Probe{
								ProbeHandler: corev1.ProbeHandler{
									HTTPGet: &corev1.HTTPGetAction{
										Path: "/status",
										Port: intstr.FromString("manager"),
									},
								},
								InitialDelaySeconds: 5,
								PeriodSeconds:       2,
								TimeoutSeconds:      30,
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: PeersVolumeName, MountPath: PeersMountPath, ReadOnly: true},
							},
						},
					},
					Volumes: []corev1.Volume{runnerPeersVolume(sim)},
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, deployment, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return deployment, nil
}

// BuildManagerService creates the headless Service the workers and the
// operator reach the manager's control endpoint through. Addresses are
// published before readiness so status polls can begin while the manager is
// still loading the peer table.
func BuildManagerService(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	labels := simLabels(sim, ManagerComponentName)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ManagerName(sim.Name),
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP:                corev1.ClusterIPNone,
			Selector:                 labels,
			PublishNotReadyAddresses: true,
			Ports: []corev1.ServicePort{
				{Name: "manager", Port: ManagerPort, TargetPort: intstr.FromString("manager")},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}

// BuildWorkerDeployment creates one worker. Workers spread across the
// network's peers round-robin by ordinal.
func BuildWorkerDeployment(
	sim *v1alpha1.Simulation,
	index int32,
	runID string,
	peerCount int,
	scaleZero bool,
	scheme *runtime.Scheme,
) (*appsv1.Deployment, error) {
	name := WorkerName(sim.Name, index)
	labels := workerLabels(sim, index)

	target := 0
	if peerCount > 0 {
		target = int(index) % peerCount
	}

	env := append(runnerEnv(sim, runID),
		corev1.EnvVar{Name: "SIMULATE_WORKER_ID", Value: strconv.FormatInt(int64(index), 10)},
		corev1.EnvVar{Name: "SIMULATE_MANAGER_ADDR", Value: ManagerAddress(sim)},
		corev1.EnvVar{Name: "SIMULATE_TARGET_PEER", Value: strconv.Itoa(target)},
	)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: runnerReplicas(scaleZero),
			Selector: &metav1.LabelSelector{
				MatchLabels: labels,
			},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RecreateDeploymentStrategyType,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:      "strand-runner",
							Image:     DefaultRunnerImage,
							Resources: defaultWorkerResources(),
							Env:       env,
							VolumeMounts: []corev1.VolumeMount{
								{Name: PeersVolumeName, MountPath: PeersMountPath, ReadOnly: true},
							},
						},
					},
					Volumes: []corev1.Volume{runnerPeersVolume(sim)},
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, deployment, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return deployment, nil
}
