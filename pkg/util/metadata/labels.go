// Package metadata provides the label vocabulary shared by every manifest
// the operator generates. Children are found again (for status aggregation
// and pruning) exclusively through these labels.
package metadata

import "maps"

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppPartOf is the standard label key for the name of a higher level
	// application this one is part of.
	LabelAppPartOf = "app.kubernetes.io/part-of"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppNameStrand is the fixed application name for all strand resources.
	AppNameStrand = "strand"

	// ManagedByStrand identifies the operator managing these resources.
	ManagedByStrand = "strand-operator"
)

const (
	// LabelNetwork identifies which Network a child belongs to. It is the
	// index the applier prunes by.
	LabelNetwork = "strand.dev/network"

	// LabelSimulation identifies which Simulation a child belongs to.
	LabelSimulation = "strand.dev/simulation"

	// LabelBootstrap marks bootstrap-tier peer workloads. Value is "true".
	LabelBootstrap = "strand.dev/bootstrap"

	// LabelPeerIndex carries a peer workload's ordinal within its network.
	LabelPeerIndex = "strand.dev/peer-index"

	// LabelWorkerIndex carries a simulation worker's ordinal within its run.
	LabelWorkerIndex = "strand.dev/worker-index"
)

// BuildStandardLabels builds the standard Kubernetes labels for a strand
// component. These labels are applied to all resources managed by the
// operator.
//
// Standard labels include:
//   - app.kubernetes.io/name: "strand"
//   - app.kubernetes.io/instance: <resourceName>
//   - app.kubernetes.io/component: <componentName>
//   - app.kubernetes.io/part-of: "strand"
//   - app.kubernetes.io/managed-by: "strand-operator"
func BuildStandardLabels(resourceName, componentName string) map[string]string {
	return map[string]string{
		LabelAppName:      AppNameStrand,
		LabelAppInstance:  resourceName,
		LabelAppComponent: componentName,
		LabelAppPartOf:    AppNameStrand,
		LabelAppManagedBy: ManagedByStrand,
	}
}

// AddNetworkLabel adds the network index label to the provided labels map.
func AddNetworkLabel(labels map[string]string, networkName string) map[string]string {
	labels[LabelNetwork] = networkName
	return labels
}

// AddSimulationLabel adds the simulation index label to the provided labels map.
func AddSimulationLabel(labels map[string]string, simulationName string) map[string]string {
	labels[LabelSimulation] = simulationName
	return labels
}

// MergeLabels merges custom labels with standard labels.
//
// Note that standard labels take precedence over custom labels to prevent
// users from overriding critical operator-managed labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)

	// Copy custom labels first (if provided)
	maps.Copy(merged, customLabels)

	// Copy standard labels (overwriting any duplicates from custom)
	maps.Copy(merged, standardLabels)

	return merged
}
