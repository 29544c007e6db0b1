package windowing

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// k6Line is one line of k6 streaming JSON output (--out json). Only Point
// samples for http_req_duration are of interest here.
type k6Line struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
	Data   struct {
		Time  time.Time         `json:"time"`
		Value float64           `json:"value"`
		Tags  map[string]string `json:"tags"`
	} `json:"data"`
}

// ParseK6 reads k6 line-delimited JSON output and converts each
// http_req_duration sample into a RawRequestRecord relative to the first
// sample's timestamp. Lines that are not valid JSON or lack a usable
// timestamp are skipped and counted.
func ParseK6(r io.Reader) ([]RawRequestRecord, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []RawRequestRecord
	var testStart time.Time
	skipped := 0

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var l k6Line
		if err := json.Unmarshal(line, &l); err != nil {
			skipped++
			continue
		}
		if l.Type != "Point" || l.Metric != "http_req_duration" {
			continue
		}
		if l.Data.Time.IsZero() {
			skipped++
			continue
		}
		if testStart.IsZero() {
			testStart = l.Data.Time
		}

		rec := RawRequestRecord{
			Elapsed:   l.Data.Time.Sub(testStart).Seconds(),
			LatencyMs: l.Data.Value,
			// Samples without a status tag count as successes.
			Status: 200,
		}
		if s, ok := l.Data.Tags["status"]; ok {
			if code, err := strconv.Atoi(s); err == nil {
				rec.Status = code
			}
		}
		if v, ok := l.Data.Tags["expected_response"]; ok && v == "false" {
			rec.Failed = true
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, skipped, err
	}
	return records, skipped, nil
}
