package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"changelens/pkg/stats"
)

// Metric names used across aggregation, comparison, and reporting.
const (
	MetricP99         = "p99_ms"
	MetricErrorRate   = "error_rate"
	MetricTTD         = "ttd_seconds"
	MetricRecovery    = "recovery_seconds"
	MetricTrafficPct  = "traffic_to_v2_pct"
	MetricAffectedPct = "affected_users_pct"
)

// metricOrder fixes iteration order for reports and seed derivation.
var metricOrder = []string{
	MetricP99, MetricErrorRate, MetricTTD, MetricRecovery,
	MetricTrafficPct, MetricAffectedPct,
}

// MetricValues holds one sample per run for each metric. TTD and recovery
// only contribute samples from runs where a rollback actually triggered, so
// their n can be smaller than the run count.
type MetricValues map[string][]float64

// CollectValues extracts per-run metric samples from run summaries.
func CollectValues(runs []RunSummary) MetricValues {
	mv := MetricValues{}
	for _, rs := range runs {
		mv[MetricP99] = append(mv[MetricP99], rs.MeanP99())
		mv[MetricErrorRate] = append(mv[MetricErrorRate], rs.MeanErrorRate())
		if rs.Derived.TTDSeconds != nil {
			mv[MetricTTD] = append(mv[MetricTTD], *rs.Derived.TTDSeconds)
		}
		if rs.Derived.RecoverySeconds != nil {
			mv[MetricRecovery] = append(mv[MetricRecovery], *rs.Derived.RecoverySeconds)
		}
		mv[MetricTrafficPct] = append(mv[MetricTrafficPct], rs.Derived.Impact.TrafficToV2Pct)
		mv[MetricAffectedPct] = append(mv[MetricAffectedPct], rs.Derived.Impact.AffectedUsersPct)
	}
	return mv
}

// ScenarioStats summarizes all runs of one scenario.
type ScenarioStats struct {
	Scenario     string                   `json:"scenario"`
	Runs         int                      `json:"runs"`
	RollbackRate float64                  `json:"rollback_rate"`
	Metrics      map[string]stats.Summary `json:"metrics"`
}

// AggregateScenario computes per-metric summaries for a scenario's runs.
// Metrics with no samples are omitted rather than reported as zero.
func AggregateScenario(scenario string, runs []RunSummary, seed int64, opts ...stats.BootstrapOptions) ScenarioStats {
	var bo stats.BootstrapOptions
	if len(opts) > 0 {
		bo = opts[0]
	}
	ss := ScenarioStats{
		Scenario: scenario,
		Runs:     len(runs),
		Metrics:  map[string]stats.Summary{},
	}
	triggered := 0
	for _, rs := range runs {
		if rs.Event.Triggered {
			triggered++
		}
	}
	if len(runs) > 0 {
		ss.RollbackRate = float64(triggered) / float64(len(runs))
	}

	values := CollectValues(runs)
	for i, name := range metricOrder {
		// Distinct per-metric seeds; the bootstrap's own seed mixing keeps
		// the resample streams disjoint.
		metricSeed := seed + int64(i)
		s, err := stats.SummarizeWithOptions(values[name], metricSeed, bo)
		if err != nil {
			continue
		}
		ss.Metrics[name] = s
	}
	return ss
}

// MetricComparison is the effect size between the two scenarios on one metric.
type MetricComparison struct {
	Metric      string  `json:"metric"`
	CliffsDelta float64 `json:"cliffs_delta"`
	Effect      string  `json:"effect_size"`
}

// SuiteAnalysis is the full cross-run result: per-scenario summaries plus
// canary-vs-bluegreen effect sizes.
type SuiteAnalysis struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Seed        int64              `json:"seed"`
	Canary      ScenarioStats      `json:"canary"`
	BlueGreen   ScenarioStats      `json:"bluegreen"`
	Comparisons []MetricComparison `json:"comparisons"`
}

// Analyze aggregates both scenario groups and compares them metric by
// metric. A metric missing samples on either side is left out of the
// comparisons rather than reported as a zero effect.
func Analyze(canaryRuns, blueGreenRuns []RunSummary, seed int64, opts ...stats.BootstrapOptions) SuiteAnalysis {
	sa := SuiteAnalysis{
		GeneratedAt: time.Now().UTC(),
		Seed:        seed,
		Canary:      AggregateScenario("canary", canaryRuns, seed, opts...),
		BlueGreen:   AggregateScenario("bluegreen", blueGreenRuns, seed, opts...),
	}

	canaryValues := CollectValues(canaryRuns)
	blueGreenValues := CollectValues(blueGreenRuns)
	for _, name := range metricOrder {
		delta, effect, err := stats.CliffsDelta(canaryValues[name], blueGreenValues[name])
		if err != nil {
			continue
		}
		sa.Comparisons = append(sa.Comparisons, MetricComparison{
			Metric:      name,
			CliffsDelta: delta,
			Effect:      effect,
		})
	}
	return sa
}

// SaveAnalysis writes analysis.json.
func SaveAnalysis(path string, sa SuiteAnalysis) error {
	data, err := json.MarshalIndent(sa, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadAnalysis reads a previously written analysis.json.
func LoadAnalysis(path string) (SuiteAnalysis, error) {
	var sa SuiteAnalysis
	data, err := os.ReadFile(path)
	if err != nil {
		return sa, err
	}
	if err := json.Unmarshal(data, &sa); err != nil {
		return sa, fmt.Errorf("parse analysis: %w", err)
	}
	return sa, nil
}
