package rollout

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCanarySchedule(t *testing.T) {
	s := Canary()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if s.DeploymentStart() != 120 {
		t.Errorf("deployment start: got %v, want 120", s.DeploymentStart())
	}
	cases := []struct {
		t, want float64
	}{
		{0, 0},
		{119.9, 0},
		{120, 0.05},
		{179.9, 0.05},
		{180, 0.25},
		{240, 1.0},
		{1000, 1.0},
	}
	for _, c := range cases {
		if got := s.FractionAt(c.t); got != c.want {
			t.Errorf("FractionAt(%v) = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestMeanFractionStepwiseIntegral(t *testing.T) {
	s := Canary()
	// 60s at 5%, 60s at 25%, 60s at 100%.
	want := (60*0.05 + 60*0.25 + 60*1.0) / 180
	if got := s.MeanFraction(120, 300); !almostEqual(got, want) {
		t.Errorf("MeanFraction(120,300) = %v, want %v", got, want)
	}
	// Entirely inside the 5% stage.
	if got := s.MeanFraction(130, 150); !almostEqual(got, 0.05) {
		t.Errorf("MeanFraction(130,150) = %v, want 0.05", got)
	}
	// Straddling a stage boundary: 30s at 5%, 30s at 25%.
	if got := s.MeanFraction(150, 210); !almostEqual(got, (30*0.05+30*0.25)/60) {
		t.Errorf("MeanFraction(150,210) = %v", got)
	}
	// Degenerate interval.
	if got := s.MeanFraction(120, 120); got != 0 {
		t.Errorf("MeanFraction over empty interval = %v, want 0", got)
	}
}

func TestBlueGreenInstantCutover(t *testing.T) {
	s := BlueGreen()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := s.MeanFraction(120, 500); got != 1.0 {
		t.Errorf("cutover exposure mean = %v, want 1.0", got)
	}
	if got := s.FractionAt(100); got != 0 {
		t.Errorf("pre-cutover fraction = %v, want 0", got)
	}
}

func TestScheduleValidation(t *testing.T) {
	bad := []Schedule{
		{Scenario: "x"},
		{Scenario: "x", Stages: []Stage{{TimeOffset: 10, TrafficFraction: 1.5}}},
		{Scenario: "x", Stages: []Stage{{TimeOffset: 10, TrafficFraction: 0.5}, {TimeOffset: 10, TrafficFraction: 1.0}}},
		{Scenario: "x", Stages: []Stage{{TimeOffset: -1, TrafficFraction: 0.5}}},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestForScenario(t *testing.T) {
	if _, err := ForScenario("canary"); err != nil {
		t.Errorf("canary: %v", err)
	}
	if _, err := ForScenario("bluegreen"); err != nil {
		t.Errorf("bluegreen: %v", err)
	}
	if _, err := ForScenario("rolling"); err == nil {
		t.Error("expected error for unknown scenario")
	}
}
