package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prev)
		log.SetFlags(prevFlags)
	}()
	fn()
	return buf.String()
}

func TestInfofLevelAndMessage(t *testing.T) {
	out := capture(t, func() {
		Infof("[analyzer] wrote %s", "analysis.json")
	})
	if !strings.HasPrefix(out, "INFO ") {
		t.Errorf("expected INFO prefix, got %q", out)
	}
	if !strings.Contains(out, "[analyzer] wrote analysis.json") {
		t.Errorf("expected formatted message, got %q", out)
	}
}

func TestErrorfLevel(t *testing.T) {
	out := capture(t, func() {
		Errorf("[rollback-monitor] %v", "boom")
	})
	if !strings.HasPrefix(out, "ERROR ") {
		t.Errorf("expected ERROR prefix, got %q", out)
	}
}
