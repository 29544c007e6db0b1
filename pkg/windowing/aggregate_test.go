package windowing

import (
	"math"
	"testing"
)

func mkRecords(elapsed []float64, latency []float64, status []int) []RawRequestRecord {
	recs := make([]RawRequestRecord, len(elapsed))
	for i := range elapsed {
		recs[i] = RawRequestRecord{Elapsed: elapsed[i], LatencyMs: latency[i], Status: status[i]}
	}
	return recs
}

func TestAggregateWindowInvariants(t *testing.T) {
	var recs []RawRequestRecord
	// 3 populated windows (0-10, 10-20, 40-50) plus a deliberate gap.
	for i := 0; i < 20; i++ {
		recs = append(recs, RawRequestRecord{Elapsed: float64(i) * 0.5, LatencyMs: float64(50 + i), Status: 200})
	}
	for i := 0; i < 10; i++ {
		recs = append(recs, RawRequestRecord{Elapsed: 12 + float64(i)*0.5, LatencyMs: 80, Status: 200})
	}
	recs = append(recs, RawRequestRecord{Elapsed: 45, LatencyMs: 120, Status: 500})

	windows, skipped := Aggregate(recs, 10)

	if skipped != 0 {
		t.Errorf("expected 0 skipped, got %d", skipped)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows (gap dropped), got %d", len(windows))
	}
	for i, w := range windows {
		if w.End-w.Start != 10 {
			t.Errorf("window %d: width %v, want 10", i, w.End-w.Start)
		}
		if i > 0 && windows[i-1].Start >= w.Start {
			t.Errorf("windows not strictly increasing at %d", i)
		}
		if i > 0 && windows[i-1].End > w.Start {
			t.Errorf("windows overlap at %d", i)
		}
		if !(w.P50 <= w.P95 && w.P95 <= w.P99) {
			t.Errorf("window %d: percentile ordering violated: p50=%v p95=%v p99=%v", i, w.P50, w.P95, w.P99)
		}
	}
	if windows[2].Start != 40 || windows[2].ErrorCount != 1 || windows[2].ErrorRate != 1.0 {
		t.Errorf("error window wrong: %+v", windows[2])
	}
}

func TestAggregateSkipsBadTimestamps(t *testing.T) {
	recs := []RawRequestRecord{
		{Elapsed: 1, LatencyMs: 10, Status: 200},
		{Elapsed: -5, LatencyMs: 10, Status: 200},
		{Elapsed: math.NaN(), LatencyMs: 10, Status: 200},
		{Elapsed: 2, LatencyMs: math.Inf(1), Status: 200},
	}
	windows, skipped := Aggregate(recs, 10)
	if skipped != 3 {
		t.Errorf("expected 3 skipped records, got %d", skipped)
	}
	if len(windows) != 1 || windows[0].TotalRequests != 1 {
		t.Errorf("expected single one-sample window, got %+v", windows)
	}
}

func TestAggregateEmitsNoEmptyWindows(t *testing.T) {
	windows, _ := Aggregate(nil, 10)
	if len(windows) != 0 {
		t.Errorf("expected empty series, got %d windows", len(windows))
	}
}

func TestNearestRankPercentile(t *testing.T) {
	// Nearest rank: idx = floor(n*p) clamped to [0, n-1], no interpolation.
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	cases := []struct {
		p    float64
		want float64
	}{
		{0.50, 60},  // idx 5
		{0.95, 100}, // idx 9
		{0.99, 100}, // idx 9 (clamped)
		{0.0, 10},
	}
	for _, c := range cases {
		if got := nearestRank(sorted, c.p); got != c.want {
			t.Errorf("p=%v: got %v, want %v", c.p, got, c.want)
		}
	}
	if got := nearestRank([]float64{42}, 0.99); got != 42 {
		t.Errorf("single sample: got %v, want 42", got)
	}
	if got := nearestRank(nil, 0.5); got != 0 {
		t.Errorf("empty sample: got %v, want 0", got)
	}
}

func TestOutcomeClassification(t *testing.T) {
	cases := []struct {
		rec  RawRequestRecord
		want bool
	}{
		{RawRequestRecord{Status: 200}, false},
		{RawRequestRecord{Status: 204}, false},
		{RawRequestRecord{Status: 404}, true},
		{RawRequestRecord{Status: 500}, true},
		{RawRequestRecord{Status: 200, Failed: true}, true},
	}
	for _, c := range cases {
		if got := c.rec.IsError(); got != c.want {
			t.Errorf("IsError(%+v) = %v, want %v", c.rec, got, c.want)
		}
	}
}
