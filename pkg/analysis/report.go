package analysis

import (
	"fmt"
	"io"
	"os"
	"strings"

	"changelens/pkg/stats"
)

// metricLabels maps metric names to report headings and units.
var metricLabels = map[string]struct {
	title string
	unit  string
}{
	MetricP99:         {"P99 Latency", "ms"},
	MetricErrorRate:   {"Error Rate", ""},
	MetricTTD:         {"Time to Detection", "s"},
	MetricRecovery:    {"Recovery Time", "s"},
	MetricTrafficPct:  {"Traffic Exposed", "%"},
	MetricAffectedPct: {"Affected Users", "%"},
}

// WriteReport renders a markdown summary of a suite analysis: per-metric
// result tables for both scenarios plus the effect size comparison.
func WriteReport(w io.Writer, sa SuiteAnalysis) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Deployment Strategy Comparison\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n", sa.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Runs**: %d canary, %d blue-green (seed %d)\n\n",
		sa.Canary.Runs, sa.BlueGreen.Runs, sa.Seed)

	fmt.Fprintf(&b, "Confidence intervals are 95%% percentile bootstrap over the mean (%d resamples).\n",
		stats.DefaultBootstrapResamples)
	fmt.Fprintf(&b, "Rollback rate: canary %.0f%%, blue-green %.0f%%.\n\n",
		sa.Canary.RollbackRate*100, sa.BlueGreen.RollbackRate*100)

	fmt.Fprintf(&b, "## Results\n\n")
	for _, name := range metricOrder {
		label := metricLabels[name]
		c, cok := sa.Canary.Metrics[name]
		g, gok := sa.BlueGreen.Metrics[name]
		if !cok && !gok {
			continue
		}

		fmt.Fprintf(&b, "### %s\n\n", label.title)
		fmt.Fprintf(&b, "| Scenario | N | Mean ± SD | Median | 95%% CI |\n")
		fmt.Fprintf(&b, "|----------|---|-----------|--------|--------|\n")
		if cok {
			writeMetricRow(&b, "Canary", c, label.unit)
		}
		if gok {
			writeMetricRow(&b, "Blue-Green", g, label.unit)
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(sa.Comparisons) > 0 {
		fmt.Fprintf(&b, "## Effect Sizes (Canary vs Blue-Green)\n\n")
		for _, cmp := range sa.Comparisons {
			label := metricLabels[cmp.Metric]
			title := cmp.Metric
			if label.title != "" {
				title = label.title
			}
			fmt.Fprintf(&b, "- **%s**: Cliff's delta = %.3f (%s)\n",
				title, cmp.CliffsDelta, cmp.Effect)
		}
		fmt.Fprintf(&b, "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeMetricRow(b *strings.Builder, scenario string, s stats.Summary, unit string) {
	fmt.Fprintf(b, "| **%s** | %d | %.2f ± %.2f%s | %.2f | [%.2f, %.2f] |\n",
		scenario, s.N, s.Mean, s.StdDev, unit, s.Median, s.CILow, s.CIHigh)
}

// SaveReport writes the markdown summary to path.
func SaveReport(path string, sa SuiteAnalysis) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteReport(f, sa); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
