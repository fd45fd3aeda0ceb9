package network

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

const (
	// PeerComponentName is the component label value for peer workloads.
	PeerComponentName = "peer"

	// AnchorComponentName is the component label value for the anchor (CAS)
	// service.
	AnchorComponentName = "anchor"

	// AnchorDBComponentName is the component label value for the anchor's
	// Postgres database.
	AnchorDBComponentName = "anchor-db"

	// ChainRPCComponentName is the component label value for the chain-RPC
	// stub.
	ChainRPCComponentName = "chain-rpc"
)

const (
	// DefaultNodeImage is the default strand node container image.
	DefaultNodeImage = "ghcr.io/strandlab/strand-node:latest"

	// DefaultAnchorImage is the default anchor service container image.
	DefaultAnchorImage = "ghcr.io/strandlab/strand-anchor:latest"

	// DefaultChainRPCImage is the default chain-RPC stub container image.
	DefaultChainRPCImage = "trufflesuite/ganache:v7.9.2"

	// DefaultPostgresImage is the default anchor database container image.
	DefaultPostgresImage = "postgres:15-alpine"
)

const (
	// APIPort is the peer application API port.
	APIPort int32 = 7007

	// RPCPort is the peer control endpoint port, serving identity and
	// swarm queries.
	RPCPort int32 = 5101

	// SwarmPort is the libp2p swarm port peers dial each other on.
	SwarmPort int32 = 4001

	// MetricsPort is the Prometheus metrics port every generated workload
	// exposes.
	MetricsPort int32 = 9464

	// AnchorPort is the anchor service API port.
	AnchorPort int32 = 8081

	// ChainRPCPort is the Ethereum JSON-RPC port of the chain stub.
	ChainRPCPort int32 = 8545

	// PostgresPort is the anchor database port.
	PostgresPort int32 = 5432
)

const (
	// DataVolumeName is the name of the peer state volume.
	DataVolumeName = "data"

	// DataMountPath is where peers keep their event-log state.
	DataMountPath = "/data/strand"

	// DefaultStorageSize is the default peer state volume size.
	DefaultStorageSize = "10Gi"

	// SupportStorageSize is the state volume size for the anchor service
	// and its database.
	SupportStorageSize = "2Gi"

	// PeersVolumeName is the name of the mounted peer-table volume.
	PeersVolumeName = "peers"

	// PeersMountPath is where the published peer table appears inside
	// peer and runner containers.
	PeersMountPath = "/strand-peers"

	// HealthcheckPath is the node HTTP endpoint probed for readiness and
	// liveness.
	HealthcheckPath = "/api/v0/node/healthcheck"
)

const (
	// PrivateKeySecretKey is the data key holding the admin key inside
	// the admin Secret.
	PrivateKeySecretKey = "private-key"

	// AuthSecretUserKey and AuthSecretPasswordKey are the data keys of
	// the anchor database credentials Secret.
	AuthSecretUserKey     = "username"
	AuthSecretPasswordKey = "password"

	// AnchorDatabase and AnchorDatabaseUser are the fixed database name
	// and role the anchor service connects as.
	AnchorDatabase     = "strand_anchor"
	AnchorDatabaseUser = "strand"

	// DefaultLogLevel is the node log verbosity when the spec leaves it
	// unset.
	DefaultLogLevel = "info"
)

// MaxPeers caps the network size. The CRD schema enforces the same bound
// at admission; the controller re-checks so a bypassed webhook cannot
// trigger runaway provisioning.
const MaxPeers int32 = 64

// fixedResources returns identical requests and limits. Generated
// workloads are never auto-sized; load tests need a constant resource
// envelope to be comparable across runs.
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

// resourcesOrDefault returns the spec override when one is present.
func resourcesOrDefault(spec, def corev1.ResourceRequirements) corev1.ResourceRequirements {
	if len(spec.Requests) == 0 && len(spec.Limits) == 0 {
		return def
	}
	return spec
}

func defaultNodeResources() corev1.ResourceRequirements {
	return fixedResources("1", "1Gi")
}

func defaultAnchorResources() corev1.ResourceRequirements {
	return fixedResources("500m", "512Mi")
}

func defaultChainRPCResources() corev1.ResourceRequirements {
	return fixedResources("250m", "512Mi")
}

func defaultAnchorDBResources() corev1.ResourceRequirements {
	return fixedResources("500m", "1Gi")
}

// AnchorName returns the anchor service workload name.
func AnchorName(networkName string) string { return networkName + "-anchor" }

// AnchorDBName returns the anchor database workload name.
func AnchorDBName(networkName string) string { return networkName + "-anchor-db" }

// ChainRPCName returns the chain-RPC stub workload name.
func ChainRPCName(networkName string) string { return networkName + "-chain-rpc" }

// AnchorAuthSecretName returns the name of the minted anchor database
// credentials Secret.
func AnchorAuthSecretName(networkName string) string { return networkName + "-anchor-auth" }

// anchorURL returns the anchor endpoint peers are configured with: the
// external URL when the spec points at one, the local service otherwise.
func anchorURL(network *v1alpha1.Network) string {
	if !network.AnchorEnabled() {
		return network.Spec.Anchor.URL
	}
	return serviceURL(AnchorName(network.Name), AnchorPort)
}

// chainRPCURL returns the chain-RPC endpoint, local or external.
func chainRPCURL(network *v1alpha1.Network) string {
	if !network.ChainRPCEnabled() {
		return network.Spec.ChainRPC.URL
	}
	return serviceURL(ChainRPCName(network.Name), ChainRPCPort)
}
