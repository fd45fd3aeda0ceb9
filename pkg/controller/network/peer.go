package network

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
	"github.com/strandlab/strand-operator/pkg/util/storage"
)

// PeerName returns the workload name for the peer with the given ordinal.
// Bootstrap-tier peers occupy the low ordinals and carry a distinct name so
// operators can tell the tiers apart at a glance.
func PeerName(networkName string, index int32, bootstrap bool) string {
	if bootstrap {
		return fmt.Sprintf("%s-bootstrap-%d", networkName, index)
	}
	return fmt.Sprintf("%s-peer-%d", networkName, index)
}

// PeerRPCAddress returns the base URL of the peer's control endpoint,
// addressed through its headless Service.
func PeerRPCAddress(network *v1alpha1.Network, index int32) string {
	return peerURL(network, index, RPCPort)
}

// PeerAPIAddress returns the base URL of the peer's application API.
func PeerAPIAddress(network *v1alpha1.Network, index int32) string {
	return peerURL(network, index, APIPort)
}

func peerURL(network *v1alpha1.Network, index int32, port int32) string {
	name := PeerName(network.Name, index, index < network.BootstrapReplicas())
	// Single-replica StatefulSet: the pod is always <name>-0.
	return fmt.Sprintf("http://%s-0.%s.%s.svc.cluster.local:%d", name, name, network.Namespace, port)
}

func serviceURL(name string, port int32) string {
	return fmt.Sprintf("http://%s:%d", name, port)
}

// peerLabels builds the label set for one peer workload. The per-ordinal
// index label keeps every StatefulSet selector disjoint.
func peerLabels(network *v1alpha1.Network, index int32, bootstrap bool) map[string]string {
	labels := metadata.BuildStandardLabels(network.Name, PeerComponentName)
	labels = metadata.AddNetworkLabel(labels, network.Name)
	labels[metadata.LabelPeerIndex] = strconv.FormatInt(int64(index), 10)
	if bootstrap {
		labels[metadata.LabelBootstrap] = "true"
	}
	return labels
}

// BuildPeerStatefulSet creates the single-replica StatefulSet for one peer.
func BuildPeerStatefulSet(
	network *v1alpha1.Network,
	index int32,
	scheme *runtime.Scheme,
) (*appsv1.StatefulSet, error) {
	bootstrap := index < network.BootstrapReplicas()
	name := PeerName(network.Name, index, bootstrap)
	labels := peerLabels(network, index, bootstrap)

	image := DefaultNodeImage
	resources := defaultNodeResources()
	if network.Spec.Node != nil {
		if network.Spec.Node.Image != "" {
			image = network.Spec.Node.Image
		}
		resources = resourcesOrDefault(network.Spec.Node.Resources, resources)
	}

	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: network.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: name,
			Replicas:    ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{
				MatchLabels: labels,
			},
			PodManagementPolicy: appsv1.ParallelPodManagement,
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{
				Type: appsv1.RollingUpdateStatefulSetStrategyType,
				RollingUpdate: &appsv1.RollingUpdateStatefulSetStrategy{
					MaxUnavailable: ptr.To(intstr.FromString("50%")),
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:      "strand-node",
							Image:     image,
							Resources: resources,
							Env: []corev1.EnvVar{
								{
									Name: "STRAND_ADMIN_PRIVATE_KEY",
									ValueFrom: &corev1.EnvVarSource{
										SecretKeyRef: &corev1.SecretKeySelector{
											LocalObjectReference: corev1.LocalObjectReference{
												Name: network.PrivateKeySecretName(),
											},
											Key: PrivateKeySecretKey,
										},
									},
								},
							},
							EnvFrom: []corev1.EnvFromSource{
								{
									ConfigMapRef: &corev1.ConfigMapEnvSource{
										LocalObjectReference: corev1.LocalObjectReference{
											Name: name + "-env",
										},
									},
								},
							},
							Ports:          buildPeerContainerPorts(),
							ReadinessProbe: buildPeerReadinessProbe(),
							LivenessProbe:  buildPeerLivenessProbe(),
							VolumeMounts: []corev1.VolumeMount{
								{
									Name:      DataVolumeName,
									MountPath: DataMountPath,
								},
								{
									Name:      PeersVolumeName,
									MountPath: PeersMountPath,
									ReadOnly:  true,
								},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: PeersVolumeName,
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{
										Name: peering.ConfigMapName(network.Name),
									},
									// The table does not exist until the
									// bootstrap tier has peered; pods must
									// still be able to start.
									Optional: ptr.To(true),
								},
							},
						},
					},
				},
			},
			VolumeClaimTemplates: buildPeerVolumeClaimTemplates(network),
		},
	}

	if err := ctrl.SetControllerReference(network, sts, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return sts, nil
}

// buildPeerVolumeClaimTemplates creates the PVC template for peer state.
func buildPeerVolumeClaimTemplates(network *v1alpha1.Network) []corev1.PersistentVolumeClaim {
	var storageClass *string
	storageSize := DefaultStorageSize

	if network.Spec.Node != nil {
		if network.Spec.Node.Storage.Class != "" {
			storageClass = &network.Spec.Node.Storage.Class
		}
		if network.Spec.Node.Storage.Size != "" {
			storageSize = network.Spec.Node.Storage.Size
		}
	}

	return []corev1.PersistentVolumeClaim{
		storage.BuildPVCTemplate(DataVolumeName, storageClass, storageSize, nil),
	}
}

func buildPeerContainerPorts() []corev1.ContainerPort {
	return []corev1.ContainerPort{
		{Name: "api", ContainerPort: APIPort, Protocol: corev1.ProtocolTCP},
		{Name: "rpc", ContainerPort: RPCPort, Protocol: corev1.ProtocolTCP},
		{Name: "swarm", ContainerPort: SwarmPort, Protocol: corev1.ProtocolTCP},
		{Name: "metrics", ContainerPort: MetricsPort, Protocol: corev1.ProtocolTCP},
	}
}

func buildPeerReadinessProbe() *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: HealthcheckPath,
				Port: intstr.FromString("api"),
			},
		},
		InitialDelaySeconds: 10,
		PeriodSeconds:       1,
		TimeoutSeconds:      30,
	}
}

func buildPeerLivenessProbe() *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: HealthcheckPath,
				Port: intstr.FromString("api"),
			},
		},
		InitialDelaySeconds: 20,
		PeriodSeconds:       3,
		TimeoutSeconds:      30,
	}
}

// BuildPeerService creates the headless Service giving the peer a stable
// DNS name. Addresses are published before readiness so bootstrap peers can
// be dialed while the rest of the tier is still coming up.
func BuildPeerService(
	network *v1alpha1.Network,
	index int32,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	bootstrap := index < network.BootstrapReplicas()
	name := PeerName(network.Name, index, bootstrap)
	labels := peerLabels(network, index, bootstrap)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: network.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP:                corev1.ClusterIPNone,
			Selector:                 labels,
			PublishNotReadyAddresses: true,
			Ports: []corev1.ServicePort{
				{Name: "api", Port: APIPort, TargetPort: intstr.FromString("api")},
				{Name: "rpc", Port: RPCPort, TargetPort: intstr.FromString("rpc")},
				{Name: "swarm", Port: SwarmPort, TargetPort: intstr.FromString("swarm")},
				{Name: "metrics", Port: MetricsPort, TargetPort: intstr.FromString("metrics")},
			},
		},
	}

	if err := ctrl.SetControllerReference(network, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}

// BuildPeerEnvConfigMap creates the per-peer config bundle loaded into the
// node container via envFrom. It also records which Secret carries the
// admin key so tooling inspecting a peer can find it.
func BuildPeerEnvConfigMap(
	network *v1alpha1.Network,
	index int32,
	scheme *runtime.Scheme,
) (*corev1.ConfigMap, error) {
	bootstrap := index < network.BootstrapReplicas()
	name := PeerName(network.Name, index, bootstrap)

	logLevel := DefaultLogLevel
	if network.Spec.Node != nil && network.Spec.Node.LogLevel != "" {
		logLevel = network.Spec.Node.LogLevel
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-env",
			Namespace: network.Namespace,
			Labels:    peerLabels(network, index, bootstrap),
		},
		Data: map[string]string{
			"STRAND_NETWORK_ID":    network.NetworkID(),
			"STRAND_PEER_INDEX":    strconv.FormatInt(int64(index), 10),
			"STRAND_ANCHOR_URL":    anchorURL(network),
			"STRAND_CHAIN_RPC_URL": chainRPCURL(network),
			"STRAND_STORE_DIR":     DataMountPath,
			"STRAND_LOG_LEVEL":     logLevel,
			"STRAND_PEERS_PATH":    PeersMountPath + "/" + peering.ConfigMapKey,
			"STRAND_PRIVATE":       strconv.FormatBool(network.IsPrivate()),
			"STRAND_ADMIN_SECRET":  network.PrivateKeySecretName(),
		},
	}

	if err := ctrl.SetControllerReference(network, cm, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return cm, nil
}
