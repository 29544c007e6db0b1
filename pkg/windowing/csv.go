package windowing

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// csvHeader matches the persisted window series column contract.
var csvHeader = []string{
	"window_start", "window_end", "p50_ms", "p95_ms", "p99_ms",
	"error_count", "total_requests", "error_rate",
}

// WriteCSV writes a window series in the tabular artifact format.
func WriteCSV(w io.Writer, windows []Window) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, win := range windows {
		rec := []string{
			formatFloat(win.Start),
			formatFloat(win.End),
			formatFloat(win.P50),
			formatFloat(win.P95),
			formatFloat(win.P99),
			strconv.Itoa(win.ErrorCount),
			strconv.Itoa(win.TotalRequests),
			formatFloat(win.ErrorRate),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write window: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV loads a window series from its tabular artifact format. Malformed
// rows, including CSV quoting errors, are skipped and counted, matching the
// aggregator's degradation rule. A missing column is fatal.
func ReadCSV(r io.Reader) ([]Window, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read csv header: %w", err)
	}

	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, name := range csvHeader {
		if _, ok := col[name]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", name)
		}
	}

	var windows []Window
	skipped := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A syntax error spoils one row, not the series.
			skipped++
			continue
		}
		w, err := parseRow(row, col)
		if err != nil {
			skipped++
			continue
		}
		windows = append(windows, w)
	}
	return windows, skipped, nil
}

func parseRow(row []string, col map[string]int) (Window, error) {
	get := func(name string) (string, error) {
		i := col[name]
		if i >= len(row) {
			return "", fmt.Errorf("short row")
		}
		return row[i], nil
	}
	var w Window
	var err error
	fields := []struct {
		name string
		dst  *float64
	}{
		{"window_start", &w.Start},
		{"window_end", &w.End},
		{"p50_ms", &w.P50},
		{"p95_ms", &w.P95},
		{"p99_ms", &w.P99},
		{"error_rate", &w.ErrorRate},
	}
	for _, f := range fields {
		s, gerr := get(f.name)
		if gerr != nil {
			return Window{}, gerr
		}
		*f.dst, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return Window{}, fmt.Errorf("column %s: %w", f.name, err)
		}
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"error_count", &w.ErrorCount},
		{"total_requests", &w.TotalRequests},
	} {
		s, gerr := get(f.name)
		if gerr != nil {
			return Window{}, gerr
		}
		*f.dst, err = strconv.Atoi(s)
		if err != nil {
			return Window{}, fmt.Errorf("column %s: %w", f.name, err)
		}
	}
	return w, nil
}

// LoadCSV reads a window series artifact from disk.
func LoadCSV(path string) ([]Window, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// SaveCSV writes a window series artifact to disk.
func SaveCSV(path string, windows []Window) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, windows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
