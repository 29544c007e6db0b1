package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Get returns an environment variable or default value.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetInt parses an integer environment variable, falling back to def when unset.
// A set-but-malformed value is a startup configuration error.
func GetInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config %s=%q: %w", key, v, err)
	}
	return n, nil
}

// GetFloat parses a float environment variable, falling back to def when unset.
func GetFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config %s=%q: %w", key, v, err)
	}
	return f, nil
}

// GetDuration parses a duration environment variable ("5s", "1m"), falling back
// to def when unset.
func GetDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config %s=%q: %w", key, v, err)
	}
	return d, nil
}
