package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"changelens/pkg/analysis"
	"changelens/pkg/rollout"
	"changelens/pkg/runstore"
	"changelens/pkg/stats"
	"changelens/pkg/windowing"
	"changelens/shared/config"
	"changelens/shared/logging"
)

func main() {
	var (
		runDir   = flag.String("run", "", "analyze one run directory")
		suiteDir = flag.String("suite", "", "analyze a suite of run_* directories")
		k6Path   = flag.String("k6", "", "convert a k6 JSON stream to a window CSV")
		scenario = flag.String("scenario", rollout.ScenarioCanary, "scenario for single-run and k6 modes")
		out      = flag.String("out", "", "output path (k6 mode CSV, suite mode analysis.json)")
		report   = flag.String("report", "", "markdown summary path for suite mode")
		seed     = flag.Int64("seed", 42, "bootstrap seed for suite statistics")
		workers  = flag.Int("workers", 0, "parallel run loaders, 0 means NumCPU")
	)
	flag.Parse()

	var err error
	switch {
	case *k6Path != "":
		err = convertK6(*k6Path, *out)
	case *runDir != "":
		err = analyzeRun(*runDir, *scenario)
	case *suiteDir != "":
		err = analyzeSuite(*suiteDir, *out, *report, *seed, *workers)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logging.Errorf("[analyzer] %v", err)
		os.Exit(1)
	}
}

// convertK6 turns a k6 streaming JSON file into the window CSV the rest of
// the pipeline consumes.
func convertK6(path, out string) error {
	if out == "" {
		out = trimExt(path) + ".csv"
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, skipped, err := windowing.ParseK6(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	windowSec, err := config.GetFloat("WINDOW_SEC", windowing.DefaultWindowSeconds)
	if err != nil {
		return err
	}
	windows, dropped := windowing.Aggregate(records, windowSec)
	if err := windowing.SaveCSV(out, windows); err != nil {
		return err
	}
	logging.Infof("[analyzer] %s: %d records (%d unparsable lines, %d dropped), %d windows -> %s",
		path, len(records), skipped, dropped, len(windows), out)
	return nil
}

// analyzeRun computes and writes derived_metrics.json for one run.
func analyzeRun(dir, scenario string) error {
	cfg, err := analysisConfig()
	if err != nil {
		return err
	}
	rs, err := analysis.LoadRun(dir, scenario, cfg)
	if err != nil {
		return fmt.Errorf("load run %s: %w", dir, err)
	}
	if err := analysis.SaveDerived(dir, rs.Derived); err != nil {
		return err
	}
	logging.Infof("[analyzer] %s: rollback=%v ttd=%s recovery=%s",
		dir, rs.Event.Triggered, fmtSeconds(rs.Derived.TTDSeconds), fmtSeconds(rs.Derived.RecoverySeconds))
	return nil
}

// analyzeSuite loads both scenario groups, runs the cross-run statistics,
// and writes analysis.json plus an optional markdown report. When
// DATABASE_URL is set, results are also persisted to PostgreSQL.
func analyzeSuite(root, out, report string, seed int64, workers int) error {
	cfg, err := analysisConfig()
	if err != nil {
		return err
	}

	canaryRuns, err := analysis.LoadSuite(root, rollout.ScenarioCanary, cfg, workers)
	if err != nil {
		return fmt.Errorf("canary runs: %w", err)
	}
	blueGreenRuns, err := analysis.LoadSuite(root, rollout.ScenarioBlueGreen, cfg, workers)
	if err != nil {
		return fmt.Errorf("bluegreen runs: %w", err)
	}

	opts, err := bootstrapOptions()
	if err != nil {
		return err
	}
	sa := analysis.Analyze(canaryRuns, blueGreenRuns, seed, opts)
	logging.Infof("[analyzer] suite %s: %d canary runs, %d bluegreen runs, %d comparisons",
		root, sa.Canary.Runs, sa.BlueGreen.Runs, len(sa.Comparisons))

	if out == "" {
		out = filepath.Join(root, "analysis.json")
	}
	if err := analysis.SaveAnalysis(out, sa); err != nil {
		return err
	}
	logging.Infof("[analyzer] wrote %s", out)

	if report != "" {
		if err := analysis.SaveReport(report, sa); err != nil {
			return err
		}
		logging.Infof("[analyzer] wrote %s", report)
	}

	if dsn := config.Get("DATABASE_URL", ""); dsn != "" {
		if err := persist(dsn, canaryRuns, blueGreenRuns, sa); err != nil {
			return err
		}
	}
	return nil
}

func persist(dsn string, canaryRuns, blueGreenRuns []analysis.RunSummary, sa analysis.SuiteAnalysis) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := runstore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, rs := range append(append([]analysis.RunSummary{}, canaryRuns...), blueGreenRuns...) {
		if err := store.SaveRun(ctx, rs); err != nil {
			return err
		}
	}
	if err := store.SaveAnalysis(ctx, sa); err != nil {
		return err
	}
	logging.Infof("[analyzer] persisted %d runs to postgres", len(canaryRuns)+len(blueGreenRuns))
	return nil
}

// analysisConfig builds the derived metrics config from the environment,
// sharing threshold variables with the monitor. A set-but-malformed value is
// a startup error, never a silent fallback.
func analysisConfig() (analysis.Config, error) {
	cfg := analysis.DefaultConfig()
	var err error
	if cfg.Thresholds.P99ThresholdMs, err = config.GetFloat("P99_THRESHOLD_MS", cfg.Thresholds.P99ThresholdMs); err != nil {
		return analysis.Config{}, err
	}
	if cfg.Thresholds.ErrorRateThreshold, err = config.GetFloat("ERR_THRESHOLD", cfg.Thresholds.ErrorRateThreshold); err != nil {
		return analysis.Config{}, err
	}
	if cfg.Thresholds.RequiredConsecutive, err = config.GetInt("CONSEC_WINDOWS", cfg.Thresholds.RequiredConsecutive); err != nil {
		return analysis.Config{}, err
	}
	if cfg.BaselineSeconds, err = config.GetFloat("BASELINE_WINDOW_SEC", cfg.BaselineSeconds); err != nil {
		return analysis.Config{}, err
	}
	if cfg.RecoveryP99Multiplier, err = config.GetFloat("RECOVERY_P99_MULT", cfg.RecoveryP99Multiplier); err != nil {
		return analysis.Config{}, err
	}
	if cfg.RecoveryErrorRateDelta, err = config.GetFloat("RECOVERY_ERR_DELTA", cfg.RecoveryErrorRateDelta); err != nil {
		return analysis.Config{}, err
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return analysis.Config{}, fmt.Errorf("invalid thresholds: %w", err)
	}
	return cfg, nil
}

// bootstrapOptions reads the suite statistics knobs from the environment.
func bootstrapOptions() (stats.BootstrapOptions, error) {
	resamples, err := config.GetInt("BOOTSTRAP_SAMPLES", stats.DefaultBootstrapResamples)
	if err != nil {
		return stats.BootstrapOptions{}, err
	}
	confidence, err := config.GetFloat("CONFIDENCE_LEVEL", stats.DefaultConfidence)
	if err != nil {
		return stats.BootstrapOptions{}, err
	}
	if confidence <= 0 || confidence >= 1 {
		return stats.BootstrapOptions{}, fmt.Errorf("CONFIDENCE_LEVEL must be in (0,1), got %v", confidence)
	}
	return stats.BootstrapOptions{Resamples: resamples, Confidence: confidence}, nil
}

func fmtSeconds(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1fs", *p)
}

func trimExt(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}
