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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ============================================================================
// Simulation Spec
// ============================================================================

// Scenario identifies a load scenario the runner image knows how to execute.
// The set is closed: manifest generation switches over it exhaustively and
// anything else is rejected as an invalid spec before any child is created.
type Scenario string

const (
	// ScenarioSteadyState exercises a realistic mixed read/write load.
	ScenarioSteadyState Scenario = "steady-state"

	// ScenarioWriteOnly appends events to pre-created streams.
	ScenarioWriteOnly Scenario = "write-only"

	// ScenarioNewStreams creates a fresh stream per simulated user action.
	ScenarioNewStreams Scenario = "new-streams"

	// ScenarioQuery issues index queries against existing streams.
	ScenarioQuery Scenario = "query"
)

// Valid reports whether s is one of the known scenarios.
func (s Scenario) Valid() bool {
	switch s {
	case ScenarioSteadyState, ScenarioWriteOnly, ScenarioNewStreams, ScenarioQuery:
		return true
	}
	return false
}

// Scenarios lists every known scenario, for validation messages.
func Scenarios() []Scenario {
	return []Scenario{
		ScenarioSteadyState,
		ScenarioWriteOnly,
		ScenarioNewStreams,
		ScenarioQuery,
	}
}

// NetworkRef points a Simulation at the Network it drives load against.
type NetworkRef struct {
	// Name of the Network resource.
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=253
	Name string `json:"name"`

	// Namespace of the Network. Defaults to the Simulation's namespace.
	// +optional
	// +kubebuilder:validation:MaxLength=253
	Namespace string `json:"namespace,omitempty"`
}

// SimulationSpec defines the desired state of a Simulation. It is
// effectively immutable: rerunning means deleting and re-applying.
type SimulationSpec struct {
	// Scenario to execute.
	// +kubebuilder:validation:Enum=steady-state;write-only;new-streams;query
	Scenario Scenario `json:"scenario"`

	// Users is the number of simulated users. One worker workload is
	// provisioned per user, bounded by the operator's batch cap.
	// +kubebuilder:validation:Minimum=1
	Users int32 `json:"users"`

	// RunTime is the run duration in minutes, counted from the moment all
	// workers report Ready.
	// +kubebuilder:validation:Minimum=1
	RunTime int32 `json:"runTime"`

	// NetworkRef is the target network. The run stays Pending until that
	// network reports Steady, and fails if it never does within the
	// operator's readiness window.
	NetworkRef NetworkRef `json:"networkRef"`

	// ThrottleRPS caps each worker's request rate.
	// +optional
	// +kubebuilder:validation:Minimum=1
	ThrottleRPS *int32 `json:"throttleRps,omitempty"`
}

// TargetNetworkNamespace returns the namespace the referenced Network lives
// in, defaulting to the Simulation's own.
func (s *Simulation) TargetNetworkNamespace() string {
	if s.Spec.NetworkRef.Namespace != "" {
		return s.Spec.NetworkRef.Namespace
	}
	return s.Namespace
}

// ============================================================================
// Simulation Status
// ============================================================================

// SimulationPhase is the run state machine position. Completed and Failed
// are terminal and sticky; everything else is recomputed from observed
// readiness each pass.
type SimulationPhase string

const (
	SimulationPhasePending               SimulationPhase = "Pending"
	SimulationPhaseProvisioningTelemetry SimulationPhase = "ProvisioningTelemetry"
	SimulationPhaseStartingManager       SimulationPhase = "StartingManager"
	SimulationPhaseStartingWorkers       SimulationPhase = "StartingWorkers"
	SimulationPhaseRunning               SimulationPhase = "Running"
	SimulationPhaseCompleted             SimulationPhase = "Completed"
	SimulationPhaseFailed                SimulationPhase = "Failed"
)

// Terminal reports whether the phase is sticky. A terminal run is never
// restarted in place; the documented rerun workflow is delete-then-recreate.
func (p SimulationPhase) Terminal() bool {
	return p == SimulationPhaseCompleted || p == SimulationPhaseFailed
}

// SimulationStatus defines the observed state of a Simulation.
type SimulationStatus struct {
	// Phase of the run state machine.
	// +optional
	Phase SimulationPhase `json:"phase,omitempty"`

	// ObservedGeneration is the spec generation last acted upon.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// RunID uniquely identifies this run instance. Minted once, exported
	// to the runners, and never reused across delete/recreate cycles.
	// +optional
	RunID string `json:"runId,omitempty"`

	// Workers is the desired worker count.
	// +optional
	Workers int32 `json:"workers,omitempty"`

	// ReadyWorkers is the number of workers currently Ready.
	// +optional
	ReadyWorkers int32 `json:"readyWorkers,omitempty"`

	// StartedAt is when all workers first reported Ready and the run
	// entered Running.
	// +optional
	StartedAt *metav1.Time `json:"startedAt,omitempty"`

	// CompletedAt is when the run reached a terminal phase.
	// +optional
	CompletedAt *metav1.Time `json:"completedAt,omitempty"`

	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// ============================================================================
// Kind Definition and registration
// ============================================================================

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Scenario",type="string",JSONPath=".spec.scenario"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Workers",type="integer",JSONPath=".status.readyWorkers"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Simulation is the Schema for the simulations API.
type Simulation struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SimulationSpec   `json:"spec,omitempty"`
	Status SimulationStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// SimulationList contains a list of Simulation.
type SimulationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Simulation `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Simulation{}, &SimulationList{})
}
