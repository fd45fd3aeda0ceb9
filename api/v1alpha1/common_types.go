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

// ============================================================================
// Shared Configuration Structs
// ============================================================================
//
// These structs are used by both Network and Simulation to keep configuration
// shapes consistent across resources.

// StorageSpec defines the storage configuration for a stateful component.
type StorageSpec struct {
	// Size of the persistent volume.
	// +kubebuilder:validation:Pattern="^([0-9]+)(.+)$"
	// +kubebuilder:validation:MaxLength=63
	// +optional
	Size string `json:"size,omitempty"`

	// Class is the StorageClass name.
	// +optional
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=63
	Class string `json:"class,omitempty"`
}

// PeerInfo describes one discovered network peer. It is published both on
// the Network status and in the peers ConfigMap consumed by simulation
// runners.
type PeerInfo struct {
	// Index is the peer's ordinal across the whole network. Bootstrap-tier
	// peers occupy the low ordinals.
	Index int32 `json:"index"`

	// ID is the peer's self-reported network identity.
	ID string `json:"id"`

	// Bootstrap marks peers belonging to the bootstrap tier.
	// +optional
	Bootstrap bool `json:"bootstrap,omitempty"`

	// RPCAddress is the base URL of the peer's control endpoint.
	RPCAddress string `json:"rpcAddress"`

	// APIAddress is the base URL of the peer's application API.
	APIAddress string `json:"apiAddress"`

	// P2PAddresses are the peer's advertised swarm multiaddresses,
	// suffixed with the peer identity.
	// +optional
	P2PAddresses []string `json:"p2pAddresses,omitempty"`
}
