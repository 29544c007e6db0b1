package analysis

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"changelens/pkg/detector"
	"changelens/pkg/rollout"
	"changelens/pkg/windowing"
)

// LoadRun reads one run directory: the scenario's window CSV and events.json,
// then computes derived metrics. The CSV is matched as <scenario>_*.csv with
// metrics.csv as a fallback for single-scenario runs.
func LoadRun(dir, scenario string, cfg Config) (RunSummary, error) {
	csvPath, err := findRunCSV(dir, scenario)
	if err != nil {
		return RunSummary{}, err
	}

	windows, skipped, err := windowing.LoadCSV(csvPath)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load %s: %w", csvPath, err)
	}
	if skipped > 0 {
		log.Printf("[analysis] %s: skipped %d malformed rows", csvPath, skipped)
	}

	ev, err := detector.LoadEventFile(filepath.Join(dir, EventsFile))
	if err != nil {
		return RunSummary{}, fmt.Errorf("load events for %s: %w", dir, err)
	}

	schedule := eventSchedule(ev, scenario)

	rc, err := LoadRunConfig(dir)
	if err != nil {
		return RunSummary{}, err
	}
	if rc.Thresholds.Validate() == nil {
		cfg.Thresholds = rc.Thresholds
	}

	return RunSummary{
		RunDir:   dir,
		RunID:    rc.RunID,
		Scenario: scenario,
		Windows:  windows,
		Event:    ev,
		Derived:  Compute(windows, ev, schedule, cfg),
		Skipped:  skipped,
	}, nil
}

// LoadSuite discovers run_* directories under root, loads each in parallel,
// and returns summaries ordered by run directory name. Runs missing the
// scenario's CSV are skipped with a log line; any other failure aborts.
func LoadSuite(root, scenario string, cfg Config, workers int) ([]RunSummary, error) {
	dirs, err := DiscoverRuns(root)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no run_* directories under %s", root)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(dirs) {
		workers = len(dirs)
	}

	type result struct {
		idx     int
		summary RunSummary
		err     error
		skip    bool
	}

	jobs := make(chan int)
	results := make(chan result, len(dirs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rs, err := LoadRun(dirs[idx], scenario, cfg)
				if err != nil && os.IsNotExist(err) {
					results <- result{idx: idx, skip: true}
					continue
				}
				results <- result{idx: idx, summary: rs, err: err}
			}
		}()
	}
	for idx := range dirs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	close(results)

	ordered := make([]*RunSummary, len(dirs))
	for r := range results {
		if r.skip {
			log.Printf("[analysis] %s: no %s CSV, skipping", dirs[r.idx], scenario)
			continue
		}
		if r.err != nil {
			return nil, r.err
		}
		rs := r.summary
		ordered[r.idx] = &rs
	}

	out := make([]RunSummary, 0, len(dirs))
	for _, rs := range ordered {
		if rs != nil {
			out = append(out, *rs)
		}
	}
	return out, nil
}

// DiscoverRuns lists run_* child directories of root in name order.
func DiscoverRuns(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read suite dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run_") {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// findRunCSV resolves the window CSV for a scenario inside a run directory.
func findRunCSV(dir, scenario string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, scenario+"_*.csv"))
	if err != nil {
		return "", err
	}
	if len(matches) > 0 {
		sort.Strings(matches)
		return matches[0], nil
	}
	fallback := filepath.Join(dir, "metrics.csv")
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}
	return "", os.ErrNotExist
}

// eventSchedule rebuilds the rollout schedule a run used, preferring the
// stages recorded in its event over the scenario's built-in schedule.
func eventSchedule(ev detector.RollbackEvent, scenario string) rollout.Schedule {
	if len(ev.RolloutStages) > 0 {
		s := rollout.Schedule{Scenario: scenario, Stages: ev.RolloutStages}
		if s.Validate() == nil {
			return s
		}
	}
	s, err := rollout.ForScenario(scenario)
	if err != nil {
		return rollout.Canary()
	}
	return s
}
