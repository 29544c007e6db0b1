package windowing

import (
	"bytes"
	"strings"
	"testing"
)

func TestCSVRoundTrip(t *testing.T) {
	in := []Window{
		{Start: 0, End: 10, P50: 45.5, P95: 88, P99: 120.25, ErrorCount: 2, TotalRequests: 100, ErrorRate: 0.02},
		{Start: 10, End: 20, P50: 50, P95: 95, P99: 600, ErrorCount: 0, TotalRequests: 90, ErrorRate: 0},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, in); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out, skipped, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if skipped != 0 {
		t.Errorf("expected 0 skipped rows, got %d", skipped)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d windows, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("window %d mismatch: got %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestReadCSVSkipsMalformedRows(t *testing.T) {
	data := strings.Join([]string{
		"window_start,window_end,p50_ms,p95_ms,p99_ms,error_count,total_requests,error_rate",
		"0,10,45,88,120,2,100,0.02",
		"bogus,10,45,88,120,2,100,0.02",
		"10,20,50,95,130,not_an_int,90,0",
		"20,30,4\"5,95,130,1,90,0.011",
		"30,40,50,95,130,1,90,0.011",
	}, "\n")
	windows, skipped, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if skipped != 3 {
		t.Errorf("expected 3 skipped rows, got %d", skipped)
	}
	if len(windows) != 2 {
		t.Errorf("expected 2 windows, got %d", len(windows))
	}
	if len(windows) == 2 && windows[1].Start != 30 {
		t.Errorf("expected row after quoting error to survive, got start %v", windows[1].Start)
	}
}

func TestReadCSVMissingColumnIsFatal(t *testing.T) {
	data := "window_start,window_end,p50_ms\n0,10,45\n"
	if _, _, err := ReadCSV(strings.NewReader(data)); err == nil {
		t.Error("expected error for missing columns")
	}
}
