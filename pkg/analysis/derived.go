package analysis

import (
	"log"

	"changelens/pkg/detector"
	"changelens/pkg/rollout"
	"changelens/pkg/windowing"
)

// Config tunes the derived metrics calculation. Zero values take the
// experiment defaults.
type Config struct {
	// BaselineSeconds bounds the warmup period used for the baseline.
	BaselineSeconds float64 `json:"baseline_window_seconds"`
	// Recovery margin: p99 below baseline*multiplier and error rate below
	// baseline+delta counts as recovered.
	RecoveryP99Multiplier  float64 `json:"recovery_p99_multiplier"`
	RecoveryErrorRateDelta float64 `json:"recovery_error_rate_delta"`
	// Thresholds are used to infer a trigger time when an event was
	// reconstructed without one.
	Thresholds detector.Thresholds `json:"thresholds"`
}

// DefaultConfig returns the experiment defaults: 60s baseline, recovery at
// p99 < baseline*1.1 and error rate < baseline+0.01.
func DefaultConfig() Config {
	return Config{
		BaselineSeconds:        60,
		RecoveryP99Multiplier:  1.1,
		RecoveryErrorRateDelta: 0.01,
		Thresholds:             detector.DefaultThresholds(),
	}
}

func (c Config) withDefaults() Config {
	if c.BaselineSeconds <= 0 {
		c.BaselineSeconds = 60
	}
	if c.RecoveryP99Multiplier <= 0 {
		c.RecoveryP99Multiplier = 1.1
	}
	if c.RecoveryErrorRateDelta <= 0 {
		c.RecoveryErrorRateDelta = 0.01
	}
	if c.Thresholds == (detector.Thresholds{}) {
		c.Thresholds = detector.DefaultThresholds()
	}
	return c
}

// Baseline fallback markers. An empty Fallback means the baseline came from
// real pre-deployment windows.
const (
	FallbackFirstWindows = "first_windows"
	FallbackConstants    = "constants"
)

// Baseline is the healthy reference the run is judged against.
type Baseline struct {
	P99       float64 `json:"p99_ms"`
	ErrorRate float64 `json:"error_rate"`
	Fallback  string  `json:"fallback,omitempty"`
}

// ImpactScope quantifies how much traffic the regression reached before the
// rollback. Percent fields are 0-100.
type ImpactScope struct {
	TrafficToV2Pct          float64 `json:"traffic_to_v2_pct"`
	AffectedUsersPct        float64 `json:"affected_users_pct"`
	RequestsExposed         int     `json:"total_requests_before_rollback"`
	ErrorRateDuringExposure float64 `json:"error_rate_during_regression"`
}

// DerivedMetrics are the research metrics for one run.
//
// TTD and recovery are nil when no rollback triggered. When a rollback
// triggered but metrics never returned to baseline before the series ended,
// RecoverySeconds holds the elapsed time to series end and RecoveryLowerBound
// is set: a lower bound, deliberately asymmetric with TTD's nil.
type DerivedMetrics struct {
	Baseline           Baseline    `json:"baseline"`
	TTDSeconds         *float64    `json:"ttd_seconds"`
	RecoverySeconds    *float64    `json:"recovery_time_seconds"`
	RecoveryLowerBound bool        `json:"recovery_is_lower_bound,omitempty"`
	Impact             ImpactScope `json:"impact_scope"`
	RollbackTriggered  bool        `json:"rollback_triggered"`
}

// ComputeBaseline averages p99 and error rate over the warmup windows
// (start < baselineSeconds). With no warmup windows it falls back to the
// first 6 windows, and with an empty series to fixed constants
// (p99=100ms, error rate 1%); both fallbacks are logged and marked.
func ComputeBaseline(windows []windowing.Window, baselineSeconds float64) Baseline {
	selected := make([]windowing.Window, 0, len(windows))
	for _, w := range windows {
		if w.Start < baselineSeconds {
			selected = append(selected, w)
		}
	}
	fallback := ""
	if len(selected) == 0 && len(windows) > 0 {
		n := 6
		if len(windows) < n {
			n = len(windows)
		}
		selected = windows[:n]
		fallback = FallbackFirstWindows
		log.Printf("[analysis] no pre-deployment windows; baseline from first %d windows", n)
	}
	if len(selected) == 0 {
		log.Printf("[analysis] empty series; baseline from constants p99=100ms error_rate=0.01")
		return Baseline{P99: 100, ErrorRate: 0.01, Fallback: FallbackConstants}
	}

	var sumP99, sumErr float64
	for _, w := range selected {
		sumP99 += w.P99
		sumErr += w.ErrorRate
	}
	n := float64(len(selected))
	return Baseline{P99: sumP99 / n, ErrorRate: sumErr / n, Fallback: fallback}
}

// Compute derives TTD, recovery time, and impact scope for one run from its
// window series, rollback event, and rollout schedule.
func Compute(windows []windowing.Window, ev detector.RollbackEvent, schedule rollout.Schedule, cfg Config) DerivedMetrics {
	cfg = cfg.withDefaults()

	dm := DerivedMetrics{
		Baseline:          ComputeBaseline(windows, cfg.BaselineSeconds),
		RollbackTriggered: ev.Triggered,
	}

	deploymentStart := ev.DeploymentStart
	if deploymentStart == 0 {
		deploymentStart = schedule.DeploymentStart()
	}

	triggerTime := resolveTriggerTime(windows, ev, schedule, cfg)

	if ev.Triggered && triggerTime != nil {
		ttd := *triggerTime - deploymentStart
		if ttd < 0 {
			ttd = 0
		}
		dm.TTDSeconds = &ttd

		if rec, lower, ok := recoveryTime(windows, *triggerTime, dm.Baseline, cfg); ok {
			dm.RecoverySeconds = &rec
			dm.RecoveryLowerBound = lower
		}
	}

	dm.Impact = impactScope(windows, deploymentStart, triggerTime, schedule)
	return dm
}

// resolveTriggerTime prefers the recorded trigger time and otherwise infers
// one by replaying the offline detector, covering events reconstructed from
// logs without an explicit timestamp.
func resolveTriggerTime(windows []windowing.Window, ev detector.RollbackEvent, schedule rollout.Schedule, cfg Config) *float64 {
	if !ev.Triggered {
		return nil
	}
	if ev.TriggerTime != nil {
		return ev.TriggerTime
	}
	inferred := detector.Detect(windows, cfg.Thresholds, schedule)
	if !inferred.Triggered {
		return nil
	}
	return inferred.TriggerTime
}

// recoveryTime scans windows after the trigger for the first one back within
// the recovery margin of baseline. When none exists before the series ends,
// the time to series end is returned as a lower bound.
func recoveryTime(windows []windowing.Window, triggerTime float64, base Baseline, cfg Config) (seconds float64, lowerBound, ok bool) {
	p99Limit := base.P99 * cfg.RecoveryP99Multiplier
	errLimit := base.ErrorRate + cfg.RecoveryErrorRateDelta

	var seriesEnd float64
	seen := false
	for _, w := range windows {
		if w.End > seriesEnd {
			seriesEnd = w.End
		}
		if w.Start < triggerTime {
			continue
		}
		seen = true
		if w.P99 < p99Limit && w.ErrorRate < errLimit {
			rec := w.End - triggerTime
			if rec < 0 {
				rec = 0
			}
			return rec, false, true
		}
	}
	if !seen && len(windows) == 0 {
		return 0, false, false
	}
	rec := seriesEnd - triggerTime
	if rec < 0 {
		rec = 0
	}
	return rec, true, true
}

// impactScope integrates the rollout step function over the exposure window
// and combines it with the realized error rate. The exposure error rate is a
// ratio of sums across exposure windows, not a mean of per-window ratios.
func impactScope(windows []windowing.Window, deploymentStart float64, triggerTime *float64, schedule rollout.Schedule) ImpactScope {
	exposureEnd := seriesEnd(windows)
	if triggerTime != nil {
		exposureEnd = *triggerTime
	}
	if exposureEnd <= deploymentStart {
		return ImpactScope{}
	}

	trafficFrac := schedule.MeanFraction(deploymentStart, exposureEnd)

	var totalReq, totalErr int
	for _, w := range windows {
		if w.Start >= deploymentStart && w.Start < exposureEnd {
			totalReq += w.TotalRequests
			totalErr += w.ErrorCount
		}
	}
	errRate := 0.0
	if totalReq > 0 {
		errRate = float64(totalErr) / float64(totalReq)
	}

	return ImpactScope{
		TrafficToV2Pct:          trafficFrac * 100,
		AffectedUsersPct:        trafficFrac * errRate * 100,
		RequestsExposed:         totalReq,
		ErrorRateDuringExposure: errRate,
	}
}

func seriesEnd(windows []windowing.Window) float64 {
	end := 0.0
	for _, w := range windows {
		if w.End > end {
			end = w.End
		}
	}
	return end
}
