package simulation

import (
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

const (
	// ManagerComponentName is the component label value for the run manager.
	ManagerComponentName = "manager"

	// WorkerComponentName is the component label value for worker workloads.
	WorkerComponentName = "worker"

	// OtelComponentName is the component label value for the OpenTelemetry
	// collector the runners report into.
	OtelComponentName = "otel"

	// PrometheusComponentName is the component label value for the run's
	// Prometheus instance.
	PrometheusComponentName = "prometheus"

	// RedisComponentName is the component label value for the coordination
	// Redis.
	RedisComponentName = "redis"
)

const (
	// DefaultRunnerImage is the default manager/worker container image.
	DefaultRunnerImage = "ghcr.io/strandlab/strand-runner:latest"

	// OtelImage runs the collector between the runners and Prometheus.
	OtelImage = "otel/opentelemetry-collector-contrib:0.104.0"

	// PrometheusImage scrapes the collector for the run's metrics.
	PrometheusImage = "prom/prometheus:v2.45.6"

	// RedisImage backs cross-worker coordination.
	RedisImage = "redis:7-alpine"
)

const (
	// ManagerPort is the manager's control endpoint port.
	ManagerPort int32 = 5115

	// OTLPPort receives the runners' OTLP/gRPC exports.
	OTLPPort int32 = 4317

	// OtelExportPort is where the collector re-exposes received metrics in
	// Prometheus format.
	OtelExportPort int32 = 9464

	// PrometheusPort is the Prometheus HTTP port.
	PrometheusPort int32 = 9090

	// RedisPort is the coordination Redis port.
	RedisPort int32 = 6379
)

const (
	// PeersVolumeName is the name of the mounted peer-table volume inside
	// runner pods.
	PeersVolumeName = "peers"

	// PeersMountPath is where the mirrored peer table appears inside
	// runner containers. The node builders use the same path, so one
	// runner image serves both roles.
	PeersMountPath = "/strand-peers"

	// PrometheusStorageSize is the Prometheus TSDB volume size.
	PrometheusStorageSize = "10Gi"
)

// MaxWorkers caps the per-run worker count. The cap bounds the blast
// radius of a typo'd user count; genuinely larger runs are split across
// Simulations.
const MaxWorkers int32 = 64

// ManagerRestartBudget is how many manager container restarts a run
// tolerates before it is declared Failed.
const ManagerRestartBudget int32 = 4

// NetworkWaitTimeout bounds how long a run waits for its target Network
// to report Steady, counted from the Simulation's creation.
const NetworkWaitTimeout = 10 * time.Minute

func fixedResources(cpu, memory string) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpu),
			corev1.ResourceMemory: resource.MustParse(memory),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpu),
			corev1.ResourceMemory: resource.MustParse(memory),
		},
	}
}

func defaultManagerResources() corev1.ResourceRequirements {
	return fixedResources("500m", "512Mi")
}

func defaultWorkerResources() corev1.ResourceRequirements {
	return fixedResources("1", "1Gi")
}

func defaultTelemetryResources() corev1.ResourceRequirements {
	return fixedResources("250m", "512Mi")
}

// ManagerName returns the manager workload and Service name.
func ManagerName(simName string) string { return simName + "-manager" }

// WorkerName returns the workload name for the worker with the given
// ordinal.
func WorkerName(simName string, index int32) string {
	return fmt.Sprintf("%s-worker-%d", simName, index)
}

// OtelName returns the collector workload and Service name.
func OtelName(simName string) string { return simName + "-otel" }

// OtelConfigMapName returns the name of the rendered collector config.
func OtelConfigMapName(simName string) string { return simName + "-otel-config" }

// PrometheusName returns the Prometheus workload name.
func PrometheusName(simName string) string { return simName + "-prometheus" }

// PrometheusConfigMapName returns the name of the rendered scrape config.
func PrometheusConfigMapName(simName string) string { return simName + "-prom-config" }

// RedisName returns the Redis workload and Service name.
func RedisName(simName string) string { return simName + "-redis" }

// RunnerPeersName returns the name of the Simulation's own mirror of the
// target network's peer table. Runners always mount the mirror, never the
// network's ConfigMap directly, so a Simulation can target a Network in
// another namespace.
func RunnerPeersName(simName string) string { return simName + "-runner-peers" }

// ManagerAddress returns the base URL of the manager's control endpoint,
// addressed through its headless Service.
func ManagerAddress(sim *v1alpha1.Simulation) string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d",
		ManagerName(sim.Name), sim.Namespace, ManagerPort)
}

// OtelEndpoint returns the OTLP endpoint runners export telemetry to.
func OtelEndpoint(sim *v1alpha1.Simulation) string {
	return fmt.Sprintf("http://%s:%d", OtelName(sim.Name), OTLPPort)
}
