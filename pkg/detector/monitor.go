package detector

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"changelens/pkg/rollout"
)

// Prometheus metrics
var (
	monPollCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "changelens", Subsystem: "monitor", Name: "poll_cycles_total", Help: "Total poll cycles executed."},
	)
	monSkippedCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "changelens", Subsystem: "monitor", Name: "skipped_cycles_total", Help: "Poll cycles skipped because the metrics source was unreachable."},
	)
	monRollbackTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "changelens", Subsystem: "monitor", Name: "rollback_triggers_total", Help: "Rollback triggers by reason."},
		[]string{"reason"},
	)
	monActuatorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "changelens", Subsystem: "monitor", Name: "actuator_failures_total", Help: "Failed or timed-out rollback action attempts."},
	)
	monConsecutiveBad = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "changelens", Subsystem: "monitor", Name: "consecutive_bad_windows", Help: "Current consecutive bad window streak."},
	)
)

func init() {
	_ = prometheus.Register(monPollCycles)
	_ = prometheus.Register(monSkippedCycles)
	_ = prometheus.Register(monRollbackTriggers)
	_ = prometheus.Register(monActuatorFailures)
	_ = prometheus.Register(monConsecutiveBad)
}

// MonitorConfig configures one live monitoring session.
type MonitorConfig struct {
	Thresholds      Thresholds
	Schedule        rollout.Schedule
	Interval        time.Duration
	ActuatorTimeout time.Duration
}

// Monitor drives the detector from a polling loop against a live metrics
// source and invokes the rollback actuator when the detector triggers. The
// detector instance is owned by the monitor and lives exactly as long as the
// session, so no state leaks across restarts.
type Monitor struct {
	cfg       MonitorConfig
	detector  *Detector
	source    MetricsSource
	actuator  RollbackActuator
	publisher *Publisher

	lastEnd    float64
	rolledBack bool
	cycles     int
	skipped    int
}

// NewMonitor builds a monitor with a fresh detector. Config must already be
// validated; a zero Interval defaults to 5s and a zero ActuatorTimeout to
// DefaultActuatorTimeout.
func NewMonitor(cfg MonitorConfig, source MetricsSource, actuator RollbackActuator) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ActuatorTimeout <= 0 {
		cfg.ActuatorTimeout = DefaultActuatorTimeout
	}
	return &Monitor{
		cfg:      cfg,
		detector: New(cfg.Thresholds, cfg.Schedule.DeploymentStart()),
		source:   source,
		actuator: actuator,
		lastEnd:  -1,
	}
}

// SetPublisher attaches an optional snapshot publisher. A nil publisher
// disables publishing.
func (m *Monitor) SetPublisher(p *Publisher) { m.publisher = p }

// Run executes the polling loop until the rollback completes (or no actuator
// is configured and the detector triggers) or ctx is cancelled. Cancellation
// is honored at the inter-poll boundary: the in-flight cycle finishes, then
// the loop exits with a final summary. The returned event is identical to
// what an offline replay of the same windows would produce.
func (m *Monitor) Run(ctx context.Context) RollbackEvent {
	log.Printf("[monitor] starting: interval=%s p99>%.0fms err>%.2f%% consecutive=%d deployment_start=%.0fs",
		m.cfg.Interval, m.cfg.Thresholds.P99ThresholdMs, m.cfg.Thresholds.ErrorRateThreshold*100,
		m.cfg.Thresholds.RequiredConsecutive, m.cfg.Schedule.DeploymentStart())

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.cycle(ctx)

		if m.detector.State() == StateTriggered && (m.rolledBack || m.actuator == nil) {
			return m.finish(ctx, "rollback complete")
		}

		select {
		case <-ctx.Done():
			return m.finish(ctx, "cancelled")
		case <-ticker.C:
		}
	}
}

// cycle performs one poll/evaluate/act step.
func (m *Monitor) cycle(ctx context.Context) {
	m.cycles++
	monPollCycles.Inc()

	w, err := m.source.Latest(ctx)
	if err != nil {
		// Missing cycle: the hysteresis counter is neither reset nor
		// advanced, the next cycle just tries again.
		m.skipped++
		monSkippedCycles.Inc()
		log.Printf("[monitor] cycle %d: metrics source unavailable: %v", m.cycles, err)
		return
	}
	if w.End <= m.lastEnd {
		// Same window as last cycle; nothing new to evaluate.
		return
	}
	m.lastEnd = w.End

	triggeredNow := m.detector.Step(w)
	monConsecutiveBad.Set(float64(m.detector.ConsecutiveBad()))
	m.publisher.PublishWindow(ctx, w)

	log.Printf("[monitor] cycle %d: window [%.0f,%.0f) p99=%.1fms err=%.2f%% streak=%d state=%s",
		m.cycles, w.Start, w.End, w.P99, w.ErrorRate*100, m.detector.ConsecutiveBad(), m.detector.State())

	if triggeredNow {
		ev := m.detector.Event(m.cfg.Schedule)
		monRollbackTriggers.WithLabelValues(ev.TriggerReason).Inc()
		log.Printf("[monitor] rollback condition detected at t=%.0fs: %s after %d consecutive bad windows",
			*ev.TriggerTime, ev.TriggerReason, ev.ConsecutiveBadWindows)
	}

	if m.detector.State() == StateTriggered && !m.rolledBack && m.actuator != nil {
		actx, cancel := context.WithTimeout(ctx, m.cfg.ActuatorTimeout)
		err := m.actuator.Execute(actx)
		cancel()
		if err != nil {
			// The detector stays TRIGGERED; the action is retried on
			// the next cycle.
			monActuatorFailures.Inc()
			log.Printf("[monitor] rollback action failed, will retry: %v", err)
		} else {
			m.rolledBack = true
			log.Printf("[monitor] rollback action completed")
		}
	}
}

func (m *Monitor) finish(ctx context.Context, why string) RollbackEvent {
	ev := m.detector.Event(m.cfg.Schedule)
	m.publisher.PublishEvent(ctx, ev)
	log.Printf("[monitor] stopped (%s): cycles=%d skipped=%d state=%s rollback_executed=%v",
		why, m.cycles, m.skipped, m.detector.State(), m.rolledBack)
	return ev
}
