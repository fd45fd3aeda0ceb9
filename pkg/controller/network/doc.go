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

// Package network implements the controller for the Network resource.
//
// The Network controller provisions self-contained strand test networks:
// a bootstrap tier of peers every other node discovers first, a general
// tier filling out the requested size, and the support services the peers
// depend on (a local anchor/CAS stack with its Postgres database, and an
// Ethereum-compatible chain-RPC stub).
//
// # Topology State Machine
//
// The controller is level-triggered. Every pass it recomputes the phase
// from observed child readiness:
//
//	Created → ProvisioningSupportServices → ProvisioningBootstrapPeers →
//	PeeringBootstrap → ProvisioningGeneralPeers → PeeringAll → Steady
//
// Application is sequenced the same way: support services are always
// applied, the bootstrap tier once support is ready, the general tier once
// the bootstrap peer table has been published. Steady is not terminal; a
// spec change reopens provisioning for exactly the affected children.
//
// # Peer Discovery
//
// Once the bootstrap tier is ready the controller asks every ready peer
// for its identity and advertised multiaddresses and publishes the
// resulting table as the <network>-peers ConfigMap, which every peer and
// every simulation runner mounts. A table missing any bootstrap entry is
// never published.
//
// # Child Management
//
// Every child carries an owner reference (deletion is cascade garbage
// collection) and the strand.dev/network label, which is the index the
// pruner uses when the topology shrinks. Pruning always runs against the
// complete desired set, so phase gating can never prune children that
// belong to a later stage.
package network
