package rollout

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scenario names match the experiment artifact layout on disk.
const (
	ScenarioCanary    = "canary"
	ScenarioBlueGreen = "bluegreen"
)

// Stage is one step of the rollout step function: starting at TimeOffset
// seconds into the test, TrafficFraction of traffic reaches the new version.
type Stage struct {
	TimeOffset      float64 `json:"time_offset"`
	TrafficFraction float64 `json:"traffic_fraction"`
}

// Schedule describes how traffic shifts to the new version over a run.
type Schedule struct {
	Scenario string  `json:"scenario"`
	Stages   []Stage `json:"stages"`
}

// Canary returns the staged rollout used by the canary scenario:
// 5% at T=120s, 25% at T=180s, 100% at T=240s.
func Canary() Schedule {
	return Schedule{
		Scenario: ScenarioCanary,
		Stages: []Stage{
			{TimeOffset: 120, TrafficFraction: 0.05},
			{TimeOffset: 180, TrafficFraction: 0.25},
			{TimeOffset: 240, TrafficFraction: 1.0},
		},
	}
}

// BlueGreen returns the instant-cutover schedule: 100% at T=120s.
func BlueGreen() Schedule {
	return Schedule{
		Scenario: ScenarioBlueGreen,
		Stages: []Stage{
			{TimeOffset: 120, TrafficFraction: 1.0},
		},
	}
}

// ForScenario returns the built-in schedule for a scenario name.
func ForScenario(name string) (Schedule, error) {
	switch name {
	case ScenarioCanary:
		return Canary(), nil
	case ScenarioBlueGreen:
		return BlueGreen(), nil
	default:
		return Schedule{}, fmt.Errorf("unknown scenario %q", name)
	}
}

// Validate checks the schedule is a well-formed step function. Schedule
// problems are configuration errors and fail fast at startup.
func (s Schedule) Validate() error {
	if len(s.Stages) == 0 {
		return fmt.Errorf("schedule %q has no stages", s.Scenario)
	}
	prev := -1.0
	for i, st := range s.Stages {
		if st.TimeOffset < 0 {
			return fmt.Errorf("stage %d: negative time offset %v", i, st.TimeOffset)
		}
		if st.TimeOffset <= prev {
			return fmt.Errorf("stage %d: time offsets must be strictly increasing", i)
		}
		if st.TrafficFraction < 0 || st.TrafficFraction > 1 {
			return fmt.Errorf("stage %d: traffic fraction %v outside [0,1]", i, st.TrafficFraction)
		}
		prev = st.TimeOffset
	}
	return nil
}

// DeploymentStart returns the instant the new version first receives traffic.
func (s Schedule) DeploymentStart() float64 {
	if len(s.Stages) == 0 {
		return 0
	}
	return s.Stages[0].TimeOffset
}

// FractionAt returns the traffic fraction routed to the new version at time t.
func (s Schedule) FractionAt(t float64) float64 {
	frac := 0.0
	for _, st := range s.Stages {
		if t >= st.TimeOffset {
			frac = st.TrafficFraction
		}
	}
	return frac
}

// IntegralOver computes the stepwise integral of the traffic fraction over
// [from, to], in fraction-seconds.
func (s Schedule) IntegralOver(from, to float64) float64 {
	if to <= from {
		return 0
	}
	// Breakpoints inside the interval partition it into constant segments.
	points := []float64{from}
	for _, st := range s.Stages {
		if st.TimeOffset > from && st.TimeOffset < to {
			points = append(points, st.TimeOffset)
		}
	}
	points = append(points, to)

	total := 0.0
	for i := 0; i < len(points)-1; i++ {
		total += s.FractionAt(points[i]) * (points[i+1] - points[i])
	}
	return total
}

// MeanFraction returns the time-weighted average traffic fraction over
// [from, to]; zero for a degenerate interval.
func (s Schedule) MeanFraction(from, to float64) float64 {
	if to <= from {
		return 0
	}
	return s.IntegralOver(from, to) / (to - from)
}

// Load reads a schedule from a JSON file and validates it.
func Load(path string) (Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, err
	}
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("parse schedule %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}
