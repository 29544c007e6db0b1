package windowing

// RawRequestRecord is one completed request as reported by the load generator.
// Elapsed is seconds since test start; Latency is the request duration in ms.
type RawRequestRecord struct {
	Elapsed   float64 `json:"elapsed"`
	LatencyMs float64 `json:"latency_ms"`
	Status    int     `json:"status"`
	// Failed marks a request the load generator tagged as not expected,
	// regardless of status code (k6 expected_response=false).
	Failed bool `json:"failed,omitempty"`
}

// IsError reports whether the record counts toward the window error count.
func (r RawRequestRecord) IsError() bool {
	if r.Failed {
		return true
	}
	return r.Status < 200 || r.Status >= 300
}

// Window is a fixed-width bucket of aggregated request outcomes.
// Times are seconds relative to test start; percentiles are milliseconds.
type Window struct {
	Start         float64 `json:"window_start"`
	End           float64 `json:"window_end"`
	P50           float64 `json:"p50_ms"`
	P95           float64 `json:"p95_ms"`
	P99           float64 `json:"p99_ms"`
	ErrorCount    int     `json:"error_count"`
	TotalRequests int     `json:"total_requests"`
	ErrorRate     float64 `json:"error_rate"`
}

// Width returns the window duration in seconds.
func (w Window) Width() float64 { return w.End - w.Start }
