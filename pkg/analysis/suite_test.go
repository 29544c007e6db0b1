package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"changelens/pkg/detector"
	"changelens/pkg/rollout"
	"changelens/pkg/windowing"
)

func writeRun(t *testing.T, root, name, scenario string, windows []windowing.Window, ev *detector.RollbackEvent) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := windowing.SaveCSV(filepath.Join(dir, scenario+"_metrics.csv"), windows); err != nil {
		t.Fatal(err)
	}
	if ev != nil {
		if err := detector.SaveEventFile(filepath.Join(dir, EventsFile), *ev); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadRunComputesDerived(t *testing.T) {
	root := t.TempDir()
	ws := healthySeries(12)
	ws = append(ws, win(120, 900, 0.1, 100), win(130, 900, 0.1, 100))
	ev := triggeredEvent(140)
	dir := writeRun(t, root, "run_1", "canary", ws, &ev)

	rs, err := LoadRun(dir, "canary", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Windows) != 14 {
		t.Errorf("loaded %d windows, want 14", len(rs.Windows))
	}
	if !rs.Event.Triggered {
		t.Error("event not loaded")
	}
	if rs.Derived.TTDSeconds == nil || *rs.Derived.TTDSeconds != 20 {
		t.Errorf("derived TTD = %v, want 20", rs.Derived.TTDSeconds)
	}
}

func TestLoadRunDefaultsMissingEventFile(t *testing.T) {
	root := t.TempDir()
	dir := writeRun(t, root, "run_1", "canary", healthySeries(6), nil)

	rs, err := LoadRun(dir, "canary", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if rs.Event.Triggered {
		t.Error("missing events.json must mean no rollback")
	}
	if rs.Derived.TTDSeconds != nil {
		t.Error("expected nil TTD without a rollback")
	}
}

func TestLoadSuiteOrdersAndSkips(t *testing.T) {
	root := t.TempDir()
	ev := triggeredEvent(140)
	writeRun(t, root, "run_2", "canary", healthySeries(6), nil)
	writeRun(t, root, "run_1", "canary", healthySeries(6), &ev)
	// run_3 only has bluegreen data, so a canary pass skips it.
	writeRun(t, root, "run_3", "bluegreen", healthySeries(6), nil)

	runs, err := LoadSuite(root, "canary", DefaultConfig(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("loaded %d runs, want 2", len(runs))
	}
	if filepath.Base(runs[0].RunDir) != "run_1" || filepath.Base(runs[1].RunDir) != "run_2" {
		t.Errorf("runs out of order: %s, %s", runs[0].RunDir, runs[1].RunDir)
	}
	if !runs[0].Event.Triggered || runs[1].Event.Triggered {
		t.Error("events mismatched to runs")
	}
}

func TestRunConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rc := NewRunConfig("canary", 42, detector.DefaultThresholds(), rollout.Canary())
	if rc.RunID == "" {
		t.Fatal("run id not assigned")
	}
	if err := SaveRunConfig(dir, rc); err != nil {
		t.Fatal(err)
	}
	got, err := LoadRunConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != rc.RunID || got.Scenario != "canary" || got.Seed != 42 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Stages) != 3 {
		t.Errorf("stages = %d, want 3", len(got.Stages))
	}
}

func TestLoadRunConfigMissingFile(t *testing.T) {
	rc, err := LoadRunConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if rc.RunID != "" {
		t.Errorf("expected zero config, got %+v", rc)
	}
}
