package telemetry

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCounterIsShared(t *testing.T) {
	a := Counter(`dgrid_test_counter_total{case="shared"}`)
	b := Counter(`dgrid_test_counter_total{case="shared"}`)
	a.Inc()
	b.Add(2)

	if a.Get() != 3 {
		t.Errorf("Expected both handles to update one counter, got %d", a.Get())
	}

	var buf bytes.Buffer
	WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `dgrid_test_counter_total{case="shared"} 3`) {
		t.Errorf("Counter missing from the exposition:\n%s", buf.String())
	}
}

func TestTimers(t *testing.T) {
	timer := Timer("test.timer")
	timer.Update(2 * time.Millisecond)
	timer.Update(4 * time.Millisecond)

	var found bool
	for _, r := range Timers() {
		if r.Name != "test.timer" {
			continue
		}
		found = true
		if r.Count != 2 {
			t.Errorf("Expected 2 samples, got %d", r.Count)
		}
		if r.Mean != float64(3*time.Millisecond) {
			t.Errorf("Expected a mean of 3ms, got %.0fns", r.Mean)
		}
	}
	if !found {
		t.Error("Timer missing from the report")
	}
}
