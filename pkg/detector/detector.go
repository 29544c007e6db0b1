package detector

import (
	"fmt"

	"changelens/pkg/rollout"
	"changelens/pkg/windowing"
)

// Trigger reasons recorded on a RollbackEvent. The p99 condition is checked
// first on the triggering window; when both thresholds are breached there the
// event reports p99_threshold. Fixed tie-break, relied on by replay tests.
const (
	ReasonP99       = "p99_threshold"
	ReasonErrorRate = "error_rate_threshold"
)

// State of the hysteresis state machine. Triggered is terminal.
type State int

const (
	StateMonitoring State = iota
	StateTriggered
)

func (s State) String() string {
	switch s {
	case StateMonitoring:
		return "MONITORING"
	case StateTriggered:
		return "TRIGGERED"
	default:
		return "UNKNOWN"
	}
}

// Thresholds configures when a window counts as bad and how many consecutive
// bad windows arm a rollback.
type Thresholds struct {
	P99ThresholdMs      float64 `json:"p99_threshold_ms"`
	ErrorRateThreshold  float64 `json:"error_rate_threshold"`
	RequiredConsecutive int     `json:"consecutive_bad_windows_required"`
}

// DefaultThresholds matches the experiment defaults: p99 > 500ms or error
// rate > 5% sustained for 2 consecutive windows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		P99ThresholdMs:      500,
		ErrorRateThreshold:  0.05,
		RequiredConsecutive: 2,
	}
}

// Validate rejects threshold configurations that could never trigger or that
// are outright malformed. Called at startup; failures are fatal.
func (t Thresholds) Validate() error {
	if t.P99ThresholdMs <= 0 {
		return fmt.Errorf("p99 threshold must be positive, got %v", t.P99ThresholdMs)
	}
	if t.ErrorRateThreshold < 0 || t.ErrorRateThreshold >= 1 {
		return fmt.Errorf("error rate threshold must be in [0,1), got %v", t.ErrorRateThreshold)
	}
	if t.RequiredConsecutive < 1 {
		return fmt.Errorf("required consecutive windows must be >= 1, got %d", t.RequiredConsecutive)
	}
	return nil
}

// RollbackEvent is the one-per-run decision record. Field names match the
// events.json artifact layout.
type RollbackEvent struct {
	Triggered             bool            `json:"rollback_triggered"`
	TriggerTime           *float64        `json:"rollback_time"`
	TriggerReason         string          `json:"trigger_reason,omitempty"`
	ConsecutiveBadWindows int             `json:"consecutive_bad_windows"`
	DeploymentStart       float64         `json:"deployment_start"`
	RolloutStages         []rollout.Stage `json:"rollout_stages"`
}

// Detector folds a window stream into a rollback decision. Each monitoring
// session constructs its own instance; all state lives here, so replaying a
// series offline and stepping the same windows live are the same computation.
type Detector struct {
	thresholds      Thresholds
	deploymentStart float64

	state          State
	consecutiveBad int
	triggerTime    float64
	triggerReason  string
	triggerStreak  int
}

// New returns a fresh detector in MONITORING state.
func New(thresholds Thresholds, deploymentStart float64) *Detector {
	return &Detector{
		thresholds:      thresholds,
		deploymentStart: deploymentStart,
	}
}

// Step evaluates one window and returns true when this window completes the
// hysteresis pair and transitions the detector to TRIGGERED. Windows that
// start before deployment are ignored; windows after triggering are ignored
// (the state is terminal).
func (d *Detector) Step(w windowing.Window) bool {
	if d.state == StateTriggered {
		return false
	}
	if w.Start < d.deploymentStart {
		return false
	}

	badP99 := w.P99 > d.thresholds.P99ThresholdMs
	badErr := w.ErrorRate > d.thresholds.ErrorRateThreshold
	if !badP99 && !badErr {
		d.consecutiveBad = 0
		return false
	}

	d.consecutiveBad++
	if d.consecutiveBad < d.thresholds.RequiredConsecutive {
		return false
	}

	d.state = StateTriggered
	d.triggerTime = w.End
	d.triggerStreak = d.consecutiveBad
	if badP99 {
		d.triggerReason = ReasonP99
	} else {
		d.triggerReason = ReasonErrorRate
	}
	return true
}

// State returns the current FSM state.
func (d *Detector) State() State { return d.state }

// ConsecutiveBad returns the current bad-window streak.
func (d *Detector) ConsecutiveBad() int { return d.consecutiveBad }

// Event snapshots the decision so far as a RollbackEvent. The rollout stages
// are carried along so downstream impact analysis is self-contained.
func (d *Detector) Event(schedule rollout.Schedule) RollbackEvent {
	ev := RollbackEvent{
		Triggered:       d.state == StateTriggered,
		DeploymentStart: d.deploymentStart,
		RolloutStages:   schedule.Stages,
	}
	if ev.Triggered {
		t := d.triggerTime
		ev.TriggerTime = &t
		ev.TriggerReason = d.triggerReason
		ev.ConsecutiveBadWindows = d.triggerStreak
	}
	return ev
}

// Detect replays a complete window series through a fresh detector. This is
// the offline path; it is byte-identical in behavior to live stepping.
func Detect(windows []windowing.Window, thresholds Thresholds, schedule rollout.Schedule) RollbackEvent {
	d := New(thresholds, schedule.DeploymentStart())
	for _, w := range windows {
		if d.Step(w) {
			break
		}
	}
	return d.Event(schedule)
}
