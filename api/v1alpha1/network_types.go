/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ============================================================================
// Network Spec
// ============================================================================

// NetworkSpec defines the desired state of a strand test network.
type NetworkSpec struct {
	// Peers is the total number of strand nodes, bootstrap tier included.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=64
	Peers int32 `json:"peers"`

	// Bootstrap configures the bootstrap tier, the subset of peers every
	// other peer must discover before general connectivity is attempted.
	// +optional
	Bootstrap *BootstrapSpec `json:"bootstrap,omitempty"`

	// Node configures the strand node containers.
	// +optional
	Node *NodeSpec `json:"node,omitempty"`

	// Anchor configures the anchor (CAS) service peers use to timestamp
	// their event logs. When nil, a local anchor stack is provisioned with
	// defaults; setting URL points peers at an external service instead.
	// +optional
	Anchor *AnchorSpec `json:"anchor,omitempty"`

	// ChainRPC configures the Ethereum-compatible RPC stub the anchor
	// service settles against. Same enable semantics as Anchor.
	// +optional
	ChainRPC *ChainRPCSpec `json:"chainRpc,omitempty"`

	// Private restricts peer discovery to in-network peers only.
	// +optional
	Private *bool `json:"private,omitempty"`

	// PrivateKeySecret names an existing Secret holding the admin private
	// key under the "private-key" key. When empty the operator generates
	// one named "<network>-admin".
	// +optional
	// +kubebuilder:validation:MaxLength=253
	PrivateKeySecret *string `json:"privateKeySecret,omitempty"`

	// NetworkID is the logical network identifier handed to every node.
	// +optional
	// +kubebuilder:validation:MaxLength=63
	NetworkID *string `json:"networkId,omitempty"`

	// TTLSeconds tears the network down once this many seconds have passed
	// since creation. Unset means the network lives until deleted.
	// +optional
	// +kubebuilder:validation:Minimum=60
	TTLSeconds *int64 `json:"ttlSeconds,omitempty"`
}

// BootstrapSpec configures the bootstrap tier.
type BootstrapSpec struct {
	// Replicas is the bootstrap-tier size. Must not exceed spec.peers.
	// +kubebuilder:validation:Minimum=1
	// +optional
	Replicas *int32 `json:"replicas,omitempty"`
}

// NodeSpec configures the strand node containers.
type NodeSpec struct {
	// Image overrides the default strand node image.
	// +optional
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=512
	Image string `json:"image,omitempty"`

	// Resources defines the compute resource requirements per node.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`

	// Storage configures the node state volume.
	// +optional
	Storage StorageSpec `json:"storage,omitempty"`

	// LogLevel sets node log verbosity.
	// +optional
	// +kubebuilder:validation:Enum=debug;info;warn;error
	LogLevel string `json:"logLevel,omitempty"`
}

// AnchorSpec configures the anchor (CAS) service.
type AnchorSpec struct {
	// URL of an external anchor service. When set, no local anchor
	// children are provisioned.
	// +optional
	// +kubebuilder:validation:MaxLength=512
	URL string `json:"url,omitempty"`

	// Image overrides the default anchor service image.
	// +optional
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=512
	Image string `json:"image,omitempty"`

	// Resources defines the compute resource requirements.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

// ChainRPCSpec configures the chain-RPC stub.
type ChainRPCSpec struct {
	// URL of an external chain RPC endpoint. When set, no local stub is
	// provisioned.
	// +optional
	// +kubebuilder:validation:MaxLength=512
	URL string `json:"url,omitempty"`

	// Image overrides the default chain-RPC stub image.
	// +optional
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=512
	Image string `json:"image,omitempty"`

	// Resources defines the compute resource requirements.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

// ============================================================================
// Network Status
// ============================================================================

// NetworkPhase is where the topology state machine currently stands. It is
// recomputed from observed readiness every reconcile pass, never trusted
// from a prior pass.
type NetworkPhase string

const (
	NetworkPhaseCreated                    NetworkPhase = "Created"
	NetworkPhaseProvisioningSupport        NetworkPhase = "ProvisioningSupportServices"
	NetworkPhaseProvisioningBootstrapPeers NetworkPhase = "ProvisioningBootstrapPeers"
	NetworkPhasePeeringBootstrap           NetworkPhase = "PeeringBootstrap"
	NetworkPhaseProvisioningGeneralPeers   NetworkPhase = "ProvisioningGeneralPeers"
	NetworkPhasePeeringAll                 NetworkPhase = "PeeringAll"
	NetworkPhaseSteady                     NetworkPhase = "Steady"
)

// NetworkStatus defines the observed state of a Network.
type NetworkStatus struct {
	// Phase of the topology state machine.
	// +optional
	Phase NetworkPhase `json:"phase,omitempty"`

	// ObservedGeneration is the spec generation last acted upon.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Replicas is the desired total peer count.
	// +optional
	Replicas int32 `json:"replicas,omitempty"`

	// ReadyReplicas is the number of peers currently Ready.
	// +optional
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`

	// Peers is the most recently published peer-address table.
	// +optional
	Peers []PeerInfo `json:"peers,omitempty"`

	// ExpirationTime is when the network will be torn down, when
	// spec.ttlSeconds is set.
	// +optional
	ExpirationTime *metav1.Time `json:"expirationTime,omitempty"`

	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// ============================================================================
// Spec accessors
// ============================================================================
//
// Builders and the controller read the spec exclusively through these so
// defaulting lives in one place.

// BootstrapReplicas returns the bootstrap-tier size, defaulted.
func (n *Network) BootstrapReplicas() int32 {
	if n.Spec.Bootstrap != nil && n.Spec.Bootstrap.Replicas != nil {
		return *n.Spec.Bootstrap.Replicas
	}
	return DefaultBootstrapReplicas
}

// GeneralReplicas returns the general-tier size (total minus bootstrap).
func (n *Network) GeneralReplicas() int32 {
	general := n.Spec.Peers - n.BootstrapReplicas()
	if general < 0 {
		return 0
	}
	return general
}

// AnchorEnabled reports whether a local anchor stack is provisioned.
func (n *Network) AnchorEnabled() bool {
	return n.Spec.Anchor == nil || n.Spec.Anchor.URL == ""
}

// ChainRPCEnabled reports whether a local chain-RPC stub is provisioned.
func (n *Network) ChainRPCEnabled() bool {
	return n.Spec.ChainRPC == nil || n.Spec.ChainRPC.URL == ""
}

// NetworkID returns the logical network identifier, defaulted.
func (n *Network) NetworkID() string {
	if n.Spec.NetworkID != nil && *n.Spec.NetworkID != "" {
		return *n.Spec.NetworkID
	}
	return DefaultNetworkID
}

// PrivateKeySecretName returns the admin key Secret name, defaulted to the
// operator-generated one.
func (n *Network) PrivateKeySecretName() string {
	if n.Spec.PrivateKeySecret != nil && *n.Spec.PrivateKeySecret != "" {
		return *n.Spec.PrivateKeySecret
	}
	return n.Name + "-admin"
}

// IsPrivate reports whether discovery is restricted to in-network peers.
func (n *Network) IsPrivate() bool {
	return n.Spec.Private != nil && *n.Spec.Private
}

const (
	// DefaultBootstrapReplicas is the bootstrap-tier size when unspecified.
	DefaultBootstrapReplicas int32 = 1

	// DefaultNetworkID is the logical network identifier when unspecified.
	DefaultNetworkID = "local"
)

// ============================================================================
// Kind Definition and registration
// ============================================================================

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Peers",type="integer",JSONPath=".status.replicas"
// +kubebuilder:printcolumn:name="Ready",type="integer",JSONPath=".status.readyReplicas"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Network is the Schema for the networks API.
type Network struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   NetworkSpec   `json:"spec,omitempty"`
	Status NetworkStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// NetworkList contains a list of Network.
type NetworkList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Network `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Network{}, &NetworkList{})
}
