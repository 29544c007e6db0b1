package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"changelens/pkg/detector"
	"changelens/pkg/rollout"
	"changelens/shared/config"
	"changelens/shared/logging"
)

func main() {
	if err := run(); err != nil {
		logging.Errorf("[rollback-monitor] %v", err)
		os.Exit(1)
	}
}

func run() error {
	scenario := config.Get("SCENARIO", rollout.ScenarioCanary)

	p99Threshold, err := config.GetFloat("P99_THRESHOLD_MS", detector.DefaultThresholds().P99ThresholdMs)
	if err != nil {
		return err
	}
	errThreshold, err := config.GetFloat("ERR_THRESHOLD", detector.DefaultThresholds().ErrorRateThreshold)
	if err != nil {
		return err
	}
	consecutive, err := config.GetInt("CONSEC_WINDOWS", detector.DefaultThresholds().RequiredConsecutive)
	if err != nil {
		return err
	}
	interval, err := config.GetDuration("POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return err
	}
	actuatorTimeout, err := config.GetDuration("ROLLBACK_TIMEOUT", detector.DefaultActuatorTimeout)
	if err != nil {
		return err
	}

	thresholds := detector.Thresholds{
		P99ThresholdMs:      p99Threshold,
		ErrorRateThreshold:  errThreshold,
		RequiredConsecutive: consecutive,
	}
	if err := thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}

	schedule, err := loadSchedule(scenario)
	if err != nil {
		return err
	}

	metricsURL := config.Get("METRICS_URL", "")
	if metricsURL == "" {
		return fmt.Errorf("METRICS_URL is required")
	}
	source := &detector.HTTPMetricsSource{URL: metricsURL}

	actuator, err := buildActuator()
	if err != nil {
		return err
	}
	if actuator == nil {
		logging.Infof("[rollback-monitor] no actuator configured, detection only")
	}

	monitor := detector.NewMonitor(detector.MonitorConfig{
		Thresholds:      thresholds,
		Schedule:        schedule,
		Interval:        interval,
		ActuatorTimeout: actuatorTimeout,
	}, source, actuator)

	if addr := config.Get("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.Get("REDIS_PASSWORD", ""),
		})
		monitor.SetPublisher(detector.NewPublisher(rdb, "changelens:"+scenario))
		logging.Infof("[rollback-monitor] publishing snapshots to redis at %s", addr)
	}

	port := config.Get("PORT", "8188")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("[rollback-monitor] http server: %v", err)
		}
	}()
	logging.Infof("[rollback-monitor] serving /metrics and /health on :%s", port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ev := monitor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	eventsPath := config.Get("EVENTS_FILE", "events.json")
	if err := detector.SaveEventFile(eventsPath, ev); err != nil {
		return fmt.Errorf("write %s: %w", eventsPath, err)
	}
	logging.Infof("[rollback-monitor] wrote %s (triggered=%v)", eventsPath, ev.Triggered)
	return nil
}

// loadSchedule takes an explicit schedule file when provided and otherwise
// the scenario's built-in stages.
func loadSchedule(scenario string) (rollout.Schedule, error) {
	if path := config.Get("ROLLOUT_SCHEDULE_FILE", ""); path != "" {
		s, err := rollout.Load(path)
		if err != nil {
			return rollout.Schedule{}, fmt.Errorf("load schedule %s: %w", path, err)
		}
		return s, nil
	}
	return rollout.ForScenario(scenario)
}

// buildActuator picks the rollback mechanism: a script when ROLLBACK_SCRIPT
// is set, a webhook when ROLLBACK_WEBHOOK is set, neither means detect-only.
func buildActuator() (detector.RollbackActuator, error) {
	script := config.Get("ROLLBACK_SCRIPT", "")
	webhook := config.Get("ROLLBACK_WEBHOOK", "")
	switch {
	case script != "" && webhook != "":
		return nil, fmt.Errorf("ROLLBACK_SCRIPT and ROLLBACK_WEBHOOK are mutually exclusive")
	case script != "":
		if _, err := os.Stat(script); err != nil {
			return nil, fmt.Errorf("rollback script: %w", err)
		}
		return &detector.ScriptActuator{Script: script}, nil
	case webhook != "":
		return &detector.HTTPActuator{URL: webhook}, nil
	}
	return nil, nil
}
