package network

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

// BuildChainRPCStatefulSet creates the Ethereum-compatible chain stub the
// anchor service settles batches against. State is ephemeral; a restarted
// chain simply starts a fresh ledger, which is fine for a test network.
func BuildChainRPCStatefulSet(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*appsv1.StatefulSet, error) {
	name := ChainRPCName(network.Name)
	labels := supportLabels(network, ChainRPCComponentName)

	image := DefaultChainRPCImage
	resources := defaultChainRPCResources()
	if network.Spec.ChainRPC != nil {
		if network.Spec.ChainRPC.Image != "" {
			image = network.Spec.ChainRPC.Image
		}
		resources = resourcesOrDefault(network.Spec.ChainRPC.Resources, resources)
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
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:      "ganache",
							Image:     image,
							Resources: resources,
							Args: []string{
								"--host", "0.0.0.0",
								"--miner.blockTime", "1",
							},
							Ports: []corev1.ContainerPort{
								{Name: "rpc", ContainerPort: ChainRPCPort, Protocol: corev1.ProtocolTCP},
							},
						},
					},
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(network, sts, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return sts, nil
}

// BuildChainRPCService creates the Service for the chain-RPC stub.
func BuildChainRPCService(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	labels := supportLabels(network, ChainRPCComponentName)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ChainRPCName(network.Name),
			Namespace: network.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "rpc", Port: ChainRPCPort, TargetPort: intstr.FromString("rpc")},
			},
		},
	}

	if err := ctrl.SetControllerReference(network, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}
