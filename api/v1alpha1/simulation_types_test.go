package v1alpha1

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestScenarioValid(t *testing.T) {
	t.Parallel()

	for _, s := range Scenarios() {
		if !s.Valid() {
			t.Errorf("Scenario %q should be valid", s)
		}
	}

	for _, s := range []Scenario{"", "chaos-monkey", "Steady-State", "write_only"} {
		if s.Valid() {
			t.Errorf("Scenario %q should be invalid", s)
		}
	}
}

func TestSimulationPhaseTerminal(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		phase SimulationPhase
		want  bool
	}{
		"pending is live":       {SimulationPhasePending, false},
		"telemetry is live":     {SimulationPhaseProvisioningTelemetry, false},
		"manager start is live": {SimulationPhaseStartingManager, false},
		"worker start is live":  {SimulationPhaseStartingWorkers, false},
		"running is live":       {SimulationPhaseRunning, false},
		"completed is sticky":   {SimulationPhaseCompleted, true},
		"failed is sticky":      {SimulationPhaseFailed, true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if got := tc.phase.Terminal(); got != tc.want {
				t.Errorf("Terminal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTargetNetworkNamespace(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		sim  *Simulation
		want string
	}{
		"defaults to own namespace": {
			sim: &Simulation{
				ObjectMeta: metav1.ObjectMeta{Name: "load", Namespace: "strand-dev"},
				Spec: SimulationSpec{
					NetworkRef: NetworkRef{Name: "dev"},
				},
			},
			want: "strand-dev",
		},
		"explicit namespace wins": {
			sim: &Simulation{
				ObjectMeta: metav1.ObjectMeta{Name: "load", Namespace: "strand-dev"},
				Spec: SimulationSpec{
					NetworkRef: NetworkRef{Name: "dev", Namespace: "strand-shared"},
				},
			},
			want: "strand-shared",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if got := tc.sim.TargetNetworkNamespace(); got != tc.want {
				t.Errorf("TargetNetworkNamespace() = %q, want %q", got, tc.want)
			}
		})
	}
}
