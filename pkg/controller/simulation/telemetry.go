package simulation

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/yaml"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/util/metadata"
	"github.com/strandlab/strand-operator/pkg/util/storage"
)

func simLabels(sim *v1alpha1.Simulation, component string) map[string]string {
	labels := metadata.BuildStandardLabels(sim.Name, component)
	return metadata.AddSimulationLabel(labels, sim.Name)
}

const (
	otelConfigKey = "otel-config.yaml"
	promConfigKey = "prometheus.yaml"
)

// BuildOtelConfigMap renders the collector pipeline: receive OTLP from the
// runners, batch, and re-expose in Prometheus format for the run's
// Prometheus to scrape.
func BuildOtelConfigMap(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*corev1.ConfigMap, error) {
	config := map[string]any{
		"receivers": map[string]any{
			"otlp": map[string]any{
				"protocols": map[string]any{
					"grpc": map[string]any{
						"endpoint": fmt.Sprintf("0.0.0.0:%d", OTLPPort),
					},
				},
			},
		},
		"processors": map[string]any{
			"batch": map[string]any{},
		},
		"exporters": map[string]any{
			"prometheus": map[string]any{
				"endpoint": fmt.Sprintf("0.0.0.0:%d", OtelExportPort),
				"resource_to_telemetry_conversion": map[string]any{
					"enabled": true,
				},
			},
		},
		"service": map[string]any{
			"pipelines": map[string]any{
				"metrics": map[string]any{
					"receivers":  []string{"otlp"},
					"processors": []string{"batch"},
					"exporters":  []string{"prometheus"},
				},
			},
		},
	}

	payload, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to render collector config: %w", err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      OtelConfigMapName(sim.Name),
			Namespace: sim.Namespace,
			Labels:    simLabels(sim, OtelComponentName),
		},
		Data: map[string]string{
			otelConfigKey: string(payload),
		},
	}

	if err := ctrl.SetControllerReference(sim, cm, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return cm, nil
}

// BuildOtelDeployment creates the collector between the runners and
// Prometheus.
func BuildOtelDeployment(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*appsv1.Deployment, error) {
	name := OtelName(sim.Name)
	labels := simLabels(sim, OtelComponentName)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
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
							Name:      "otel-collector",
							Image:     OtelImage,
							Resources: defaultTelemetryResources(),
							Args:      []string{"--config=/etc/otel/" + otelConfigKey},
							Ports: []corev1.ContainerPort{
								{Name: "otlp-grpc", ContainerPort: OTLPPort, Protocol: corev1.ProtocolTCP},
								{Name: "prom-export", ContainerPort: OtelExportPort, Protocol: corev1.ProtocolTCP},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "config", MountPath: "/etc/otel", ReadOnly: true},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{
										Name: OtelConfigMapName(sim.Name),
									},
								},
							},
						},
					},
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, deployment, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return deployment, nil
}

// BuildOtelService creates the Service the runners export through and
// Prometheus scrapes.
func BuildOtelService(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	labels := simLabels(sim, OtelComponentName)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      OtelName(sim.Name),
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "otlp-grpc", Port: OTLPPort, TargetPort: intstr.FromString("otlp-grpc")},
				{Name: "prom-export", Port: OtelExportPort, TargetPort: intstr.FromString("prom-export")},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}

// BuildPrometheusConfigMap renders the scrape config pointed at the
// collector's Prometheus exporter.
func BuildPrometheusConfigMap(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*corev1.ConfigMap, error) {
	config := map[string]any{
		"global": map[string]any{
			"scrape_interval":     "10s",
			"evaluation_interval": "10s",
		},
		"scrape_configs": []map[string]any{
			{
				"job_name": "otel-collector",
				"static_configs": []map[string]any{
					{"targets": []string{fmt.Sprintf("%s:%d", OtelName(sim.Name), OtelExportPort)}},
				},
			},
		},
	}

	payload, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to render scrape config: %w", err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PrometheusConfigMapName(sim.Name),
			Namespace: sim.Namespace,
			Labels:    simLabels(sim, PrometheusComponentName),
		},
		Data: map[string]string{
			promConfigKey: string(payload),
		},
	}

	if err := ctrl.SetControllerReference(sim, cm, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return cm, nil
}

// BuildPrometheusStatefulSet creates the run's Prometheus. It keeps its
// TSDB on a claim so a pod restart mid-run does not lose samples.
func BuildPrometheusStatefulSet(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*appsv1.StatefulSet, error) {
	name := PrometheusName(sim.Name)
	labels := simLabels(sim, PrometheusComponentName)

	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: sim.Namespace,
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
							Name:      "prometheus",
							Image:     PrometheusImage,
							Resources: defaultTelemetryResources(),
							Args: []string{
								"--config.file=/etc/prometheus/" + promConfigKey,
								"--storage.tsdb.path=/prometheus",
							},
							Ports: []corev1.ContainerPort{
								{Name: "http", ContainerPort: PrometheusPort, Protocol: corev1.ProtocolTCP},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "config", MountPath: "/etc/prometheus", ReadOnly: true},
								{Name: "tsdb", MountPath: "/prometheus"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{
										Name: PrometheusConfigMapName(sim.Name),
									},
								},
							},
						},
					},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				storage.BuildPVCTemplate("tsdb", nil, PrometheusStorageSize, nil),
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, sts, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return sts, nil
}

// BuildRedisDeployment creates the Redis the workers coordinate through.
// Its state is scoped to one run and never persisted.
func BuildRedisDeployment(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*appsv1.Deployment, error) {
	name := RedisName(sim.Name)
	labels := simLabels(sim, RedisComponentName)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
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
							Name:      "redis",
							Image:     RedisImage,
							Resources: defaultTelemetryResources(),
							Ports: []corev1.ContainerPort{
								{Name: "redis", ContainerPort: RedisPort, Protocol: corev1.ProtocolTCP},
							},
						},
					},
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, deployment, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return deployment, nil
}

// BuildRedisService creates the Service the workers reach Redis through.
func BuildRedisService(
	sim *v1alpha1.Simulation,
	scheme *runtime.Scheme,
) (*corev1.Service, error) {
	labels := simLabels(sim, RedisComponentName)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      RedisName(sim.Name),
			Namespace: sim.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "redis", Port: RedisPort, TargetPort: intstr.FromString("redis")},
			},
		},
	}

	if err := ctrl.SetControllerReference(sim, svc, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return svc, nil
}
