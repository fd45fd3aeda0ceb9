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
	"github.com/strandlab/strand-operator/pkg/util/metadata"
	"github.com/strandlab/strand-operator/pkg/util/storage"
)

func supportLabels(network *v1alpha1.Network, component string) map[string]string {
	labels := metadata.BuildStandardLabels(network.Name, component)
	return metadata.AddNetworkLabel(labels, network.Name)
}

// BuildAnchorStatefulSet creates the anchor (CAS) service peers submit
// their event-log timestamps to.
func BuildAnchorStatefulSet(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*appsv1.StatefulSet, error) {
	name := AnchorName(network.Name)
	labels := supportLabels(network, AnchorComponentName)

	image := DefaultAnchorImage
	resources := defaultAnchorResources()
	if network.Spec.Anchor != nil {
		if network.Spec.Anchor.Image != "" {
			image = network.Spec.Anchor.Image
		}
		resources = resourcesOrDefault(network.Spec.Anchor.Resources, resources)
	}

	dbCredentials := AnchorAuthSecretName(network.Name)

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
							Name:      "anchor",
							Image:     image,
							Resources: resources,
							Env: []corev1.EnvVar{
								{Name: "DB_HOST", Value: AnchorDBName(network.Name)},
								{Name: "DB_PORT", Value: strconv.Itoa(int(PostgresPort))},
								{Name: "DB_NAME", Value: AnchorDatabase},
								{
									Name: "DB_USER",
									ValueFrom: &corev1.EnvVarSource{
										SecretKeyRef: &corev1.SecretKeySelector{
											LocalObjectReference: corev1.LocalObjectReference{Name: dbCredentials},
											Key:                  AuthSecretUserKey,
										},
									},
								},
								{
									Name: "DB_PASSWORD",
									ValueFrom: &corev1.EnvVarSource{
										SecretKeyRef: &corev1.SecretKeySelector{
											LocalObjectReference: corev1.LocalObjectReference{Name: dbCredentials},
											Key:                  AuthSecretPasswordKey,
										},
									},
								},
								{Name: "CHAIN_RPC_URL", Value: chainRPCURL(network)},
							},
							Ports: []corev1.ContainerPort{
								{Name: "api", ContainerPort: AnchorPort, Protocol: corev1.ProtocolTCP},
								{Name: "metrics", ContainerPort: MetricsPort, Protocol: corev1.ProtocolTCP},
							},
							VolumeMounts: []corev1.VolumeMount{
								{
									Name:      DataVolumeName,
									MountPath: "/data/anchor",
								},
							},
						},
					},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				storage.BuildPVCTemplate(DataVolumeName, nil, SupportStorageSize, nil),
			},
		},
	}

	if err := ctrl.SetControllerReference(network, sts, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return sts, nil
}

// BuildAnchorService creates the ClusterIP Service peers reach the anchor
// through.
func BuildAnchorService(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	labels := supportLabels(network, AnchorComponentName)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      AnchorName(network.Name),
			Namespace: network.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "api", Port: AnchorPort, TargetPort: intstr.FromString("api")},
			},
		},
	}

	if err := ctrl.SetControllerReference(network, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}

// BuildAnchorDBStatefulSet creates the Postgres instance backing the anchor
// service.
func BuildAnchorDBStatefulSet(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*appsv1.StatefulSet, error) {
	name := AnchorDBName(network.Name)
	labels := supportLabels(network, AnchorDBComponentName)
	dbCredentials := AnchorAuthSecretName(network.Name)

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
							Name:      "postgres",
							Image:     DefaultPostgresImage,
							Resources: defaultAnchorDBResources(),
							Env: []corev1.EnvVar{
								{Name: "POSTGRES_DB", Value: AnchorDatabase},
								{
									Name: "POSTGRES_USER",
									ValueFrom: &corev1.EnvVarSource{
										SecretKeyRef: &corev1.SecretKeySelector{
											LocalObjectReference: corev1.LocalObjectReference{Name: dbCredentials},
											Key:                  AuthSecretUserKey,
										},
									},
								},
								{
									Name: "POSTGRES_PASSWORD",
									ValueFrom: &corev1.EnvVarSource{
										SecretKeyRef: &corev1.SecretKeySelector{
											LocalObjectReference: corev1.LocalObjectReference{Name: dbCredentials},
											Key:                  AuthSecretPasswordKey,
										},
									},
								},
							},
							Ports: []corev1.ContainerPort{
								{Name: "postgres", ContainerPort: PostgresPort, Protocol: corev1.ProtocolTCP},
							},
							VolumeMounts: []corev1.VolumeMount{
								{
									Name:      DataVolumeName,
									MountPath: "/var/lib/postgresql",
									SubPath:   "strand_data",
								},
							},
						},
					},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				storage.BuildPVCTemplate(DataVolumeName, nil, SupportStorageSize, nil),
			},
		},
	}

	if err := ctrl.SetControllerReference(network, sts, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return sts, nil
}

// BuildAnchorDBService creates the Service the anchor connects to its
// database through.
func BuildAnchorDBService(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	labels := supportLabels(network, AnchorDBComponentName)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      AnchorDBName(network.Name),
			Namespace: network.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "postgres", Port: PostgresPort, TargetPort: intstr.FromString("postgres")},
			},
		},
	}

	if err := ctrl.SetControllerReference(network, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}
