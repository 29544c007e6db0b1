package windowing

import (
	"math"
	"sort"
)

// DefaultWindowSeconds is the bucket width used when none is configured.
const DefaultWindowSeconds = 10.0

type bucket struct {
	latencies []float64
	errors    int
	total     int
}

// Aggregate buckets raw request records into fixed-width windows and computes
// nearest-rank latency percentiles per window. Records with a missing or
// unusable timestamp are skipped and counted, never fatal. Buckets with zero
// samples are dropped, so the returned series may have gaps; windows are
// ordered by Start.
func Aggregate(records []RawRequestRecord, windowSec float64) ([]Window, int) {
	if windowSec <= 0 {
		windowSec = DefaultWindowSeconds
	}

	buckets := make(map[int]*bucket)
	skipped := 0

	for _, r := range records {
		if math.IsNaN(r.Elapsed) || math.IsInf(r.Elapsed, 0) || r.Elapsed < 0 {
			skipped++
			continue
		}
		if math.IsNaN(r.LatencyMs) || math.IsInf(r.LatencyMs, 0) {
			skipped++
			continue
		}
		key := int(r.Elapsed / windowSec)
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.latencies = append(b.latencies, r.LatencyMs)
		b.total++
		if r.IsError() {
			b.errors++
		}
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	windows := make([]Window, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		if b.total == 0 {
			continue
		}
		sort.Float64s(b.latencies)
		start := float64(k) * windowSec
		windows = append(windows, Window{
			Start:         start,
			End:           start + windowSec,
			P50:           nearestRank(b.latencies, 0.50),
			P95:           nearestRank(b.latencies, 0.95),
			P99:           nearestRank(b.latencies, 0.99),
			ErrorCount:    b.errors,
			TotalRequests: b.total,
			ErrorRate:     float64(b.errors) / float64(b.total),
		})
	}
	return windows, skipped
}

// nearestRank returns the nearest-rank percentile of an ascending-sorted
// sample: index floor(n*p) clamped to [0, n-1], no interpolation.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * p)
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
