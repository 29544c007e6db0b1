package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"changelens/pkg/windowing"
)

// MetricsSource yields the newest completed metrics window. One call per
// poll cycle; an error means the source was unreachable for that cycle.
type MetricsSource interface {
	Latest(ctx context.Context) (windowing.Window, error)
}

// HTTPMetricsSource polls a metrics endpoint returning the current window as
// a JSON document with the same fields as the persisted series.
type HTTPMetricsSource struct {
	URL    string
	Client *http.Client
}

func (s *HTTPMetricsSource) Latest(ctx context.Context) (windowing.Window, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return windowing.Window{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return windowing.Window{}, fmt.Errorf("metrics source %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return windowing.Window{}, fmt.Errorf("metrics source %s: status %d", s.URL, resp.StatusCode)
	}
	var w windowing.Window
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return windowing.Window{}, fmt.Errorf("metrics source %s: decode: %w", s.URL, err)
	}
	return w, nil
}
