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

// Package v1alpha1 defines the API types for the Strand Operator.
//
// This package contains the Go type definitions for the Custom Resources in
// the strand.dev API group. These types are used by kubebuilder to generate:
//   - CustomResourceDefinitions (CRDs)
//   - DeepCopy methods
//   - Client code
//
// # Custom Resources
//
// The API defines two user-facing resources:
//
//   - Network: a disposable peer-to-peer test network of strand event-log
//     nodes, split into a bootstrap tier and a general tier, with an
//     optional local anchor (CAS) service and chain-RPC stub.
//   - Simulation: a bounded-lifetime load run against a Network, consisting
//     of one manager workload and one worker workload per simulated user,
//     plus the telemetry/coordination services the runners need.
//
// # Resource Hierarchy
//
//	Network
//	├── per-peer StatefulSet + headless Service + env ConfigMap
//	├── peers ConfigMap (discovered address table)
//	├── anchor StatefulSet + Service (+ Postgres), when local anchoring is on
//	└── chain-RPC stub StatefulSet + Service, when enabled
//
//	Simulation
//	├── manager Deployment + headless Service
//	├── worker Deployments (one per simulated user)
//	└── otel collector, Prometheus, Redis
//
// # Versioning
//
// This is the v1alpha1 version, indicating the API is in early development
// and may change in backward-incompatible ways.
//
// +kubebuilder:object:generate=true
// +groupName=strand.dev
package v1alpha1
