package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"changelens/pkg/windowing"
)

type pollResult struct {
	w   windowing.Window
	err error
}

// scriptedSource replays a fixed sequence of poll results, then repeats the
// final one.
type scriptedSource struct {
	mu      sync.Mutex
	results []pollResult
	i       int
}

func (s *scriptedSource) Latest(ctx context.Context) (windowing.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return windowing.Window{}, errors.New("no data")
	}
	r := s.results[s.i]
	if s.i < len(s.results)-1 {
		s.i++
	}
	return r.w, r.err
}

type fakeActuator struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (a *fakeActuator) Execute(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.failures {
		return errors.New("rollback script exited 1")
	}
	return nil
}

func (a *fakeActuator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func fastConfig() MonitorConfig {
	return MonitorConfig{
		Thresholds:      testThresholds(),
		Schedule:        deploymentAt(120),
		Interval:        time.Millisecond,
		ActuatorTimeout: time.Second,
	}
}

func TestMonitorTriggersAndActs(t *testing.T) {
	windows := []windowing.Window{
		win(110, 120, 80, 0.0),
		win(120, 130, 600, 0.0),
		win(130, 140, 650, 0.0),
	}
	src := &scriptedSource{}
	for _, w := range windows {
		src.results = append(src.results, pollResult{w: w})
	}
	act := &fakeActuator{}

	m := NewMonitor(fastConfig(), src, act)
	ev := m.Run(context.Background())

	if !ev.Triggered {
		t.Fatal("expected live trigger")
	}
	if *ev.TriggerTime != 140 || ev.TriggerReason != ReasonP99 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if act.callCount() != 1 {
		t.Errorf("actuator called %d times, want 1", act.callCount())
	}

	// Determinism: offline replay of the same windows gives the same event.
	offline := Detect(windows, testThresholds(), deploymentAt(120))
	if *offline.TriggerTime != *ev.TriggerTime || offline.TriggerReason != ev.TriggerReason {
		t.Errorf("live event %+v diverges from offline replay %+v", ev, offline)
	}
}

func TestMonitorUnreachableSourceKeepsStreak(t *testing.T) {
	src := &scriptedSource{results: []pollResult{
		{w: win(120, 130, 600, 0.0)},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{w: win(130, 140, 650, 0.0)},
	}}
	m := NewMonitor(fastConfig(), src, &fakeActuator{})
	ev := m.Run(context.Background())

	if !ev.Triggered {
		t.Fatal("missing cycles must not reset the bad-window streak")
	}
	if ev.ConsecutiveBadWindows != 2 {
		t.Errorf("streak: got %d, want 2", ev.ConsecutiveBadWindows)
	}
}

func TestMonitorRetriesFailedActuator(t *testing.T) {
	src := &scriptedSource{results: []pollResult{
		{w: win(120, 130, 600, 0.0)},
		{w: win(130, 140, 650, 0.0)},
		{w: win(140, 150, 40, 0.0)},
		{w: win(150, 160, 45, 0.0)},
	}}
	act := &fakeActuator{failures: 2}
	m := NewMonitor(fastConfig(), src, act)
	ev := m.Run(context.Background())

	if !ev.Triggered {
		t.Fatal("expected trigger")
	}
	if act.callCount() != 3 {
		t.Errorf("actuator calls: got %d, want 3 (2 failures + 1 success)", act.callCount())
	}
	// The failed action never reverted the decision.
	if *ev.TriggerTime != 140 {
		t.Errorf("trigger time: got %v, want 140", *ev.TriggerTime)
	}
}

func TestMonitorCancellation(t *testing.T) {
	src := &scriptedSource{results: []pollResult{{w: win(120, 130, 40, 0.0)}}}
	m := NewMonitor(fastConfig(), src, &fakeActuator{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan RollbackEvent, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ev := <-done:
		if ev.Triggered {
			t.Error("healthy series must not trigger")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestMonitorIgnoresRepeatedWindow(t *testing.T) {
	// The same window served across consecutive polls counts once.
	src := &scriptedSource{results: []pollResult{
		{w: win(120, 130, 600, 0.0)},
		{w: win(120, 130, 600, 0.0)},
		{w: win(120, 130, 600, 0.0)},
	}}
	m := NewMonitor(fastConfig(), src, &fakeActuator{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ev := m.Run(ctx)

	if ev.Triggered {
		t.Error("one distinct bad window repeated must not satisfy hysteresis")
	}
}
