package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"changelens/pkg/detector"
	"changelens/pkg/rollout"
	"changelens/pkg/windowing"
)

// Artifact filenames inside a run directory.
const (
	EventsFile  = "events.json"
	DerivedFile = "derived_metrics.json"
	ConfigFile  = "config.json"
)

// RunConfig records how a run was produced so results stay reproducible.
type RunConfig struct {
	RunID      string              `json:"run_id"`
	Scenario   string              `json:"scenario"`
	Seed       int64               `json:"seed"`
	StartedAt  time.Time           `json:"started_at"`
	Thresholds detector.Thresholds `json:"thresholds"`
	Stages     []rollout.Stage     `json:"rollout_stages"`
}

// NewRunConfig stamps a fresh run with a unique id and the current time.
func NewRunConfig(scenario string, seed int64, thresholds detector.Thresholds, schedule rollout.Schedule) RunConfig {
	return RunConfig{
		RunID:      uuid.New().String(),
		Scenario:   scenario,
		Seed:       seed,
		StartedAt:  time.Now().UTC(),
		Thresholds: thresholds,
		Stages:     schedule.Stages,
	}
}

// RunSummary bundles everything known about one run.
type RunSummary struct {
	RunDir   string                 `json:"run_dir"`
	RunID    string                 `json:"run_id,omitempty"`
	Scenario string                 `json:"scenario"`
	Windows  []windowing.Window     `json:"-"`
	Event    detector.RollbackEvent `json:"event"`
	Derived  DerivedMetrics         `json:"derived"`
	Skipped  int                    `json:"skipped_records,omitempty"`
}

// MeanP99 averages per-window p99 across the run. Zero for an empty series.
func (rs RunSummary) MeanP99() float64 {
	if len(rs.Windows) == 0 {
		return 0
	}
	var sum float64
	for _, w := range rs.Windows {
		sum += w.P99
	}
	return sum / float64(len(rs.Windows))
}

// MeanErrorRate averages per-window error rate across the run.
func (rs RunSummary) MeanErrorRate() float64 {
	if len(rs.Windows) == 0 {
		return 0
	}
	var sum float64
	for _, w := range rs.Windows {
		sum += w.ErrorRate
	}
	return sum / float64(len(rs.Windows))
}

// SaveDerived writes derived_metrics.json into the run directory.
func SaveDerived(dir string, dm DerivedMetrics) error {
	data, err := json.MarshalIndent(dm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal derived metrics: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, DerivedFile), data, 0o644)
}

// LoadDerived reads derived_metrics.json from a run directory.
func LoadDerived(dir string) (DerivedMetrics, error) {
	var dm DerivedMetrics
	data, err := os.ReadFile(filepath.Join(dir, DerivedFile))
	if err != nil {
		return dm, err
	}
	if err := json.Unmarshal(data, &dm); err != nil {
		return dm, fmt.Errorf("parse %s: %w", DerivedFile, err)
	}
	return dm, nil
}

// SaveRunConfig writes config.json into the run directory.
func SaveRunConfig(dir string, rc RunConfig) error {
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644)
}

// LoadRunConfig reads config.json from a run directory. A missing file is
// not an error: older runs predate config capture.
func LoadRunConfig(dir string) (RunConfig, error) {
	var rc RunConfig
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return rc, nil
		}
		return rc, err
	}
	if err := json.Unmarshal(data, &rc); err != nil {
		return rc, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	return rc, nil
}
