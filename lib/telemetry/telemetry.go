package telemetry

import (
	"fmt"
	"io"
	"sort"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

var registry = gometrics.NewRegistry()

// Counter returns the named counter, creating it on first use.
// The name may carry labels, e.g. `dgrid_cache_hits_total{cache="proxies"}`.
func Counter(name string) *vm.Counter {
	return vm.GetOrCreateCounter(name)
}

// Timer returns the named latency timer, creating it on first use
func Timer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(name, registry)
}

// WritePrometheus writes all counters and gauges in Prometheus text format.
// Process metrics (memory, goroutines, ...) are included.
func WritePrometheus(w io.Writer) {
	vm.WritePrometheus(w, true)
}

// TimerReport is a point-in-time view of one timer
type TimerReport struct {
	Name  string
	Count int64
	Mean  float64 // nanoseconds
	P50   float64
	P99   float64
}

func (r TimerReport) String() string {
	return fmt.Sprintf("%-28s count=%-8d mean=%.0fns p50=%.0fns p99=%.0fns", r.Name, r.Count, r.Mean, r.P50, r.P99)
}

// Timers returns a report for every timer, sorted by name
func Timers() []TimerReport {
	var reports []TimerReport
	registry.Each(func(name string, i interface{}) {
		t, ok := i.(gometrics.Timer)
		if !ok {
			return
		}
		snap := t.Snapshot()
		ps := snap.Percentiles([]float64{0.5, 0.99})
		reports = append(reports, TimerReport{
			Name:  name,
			Count: snap.Count(),
			Mean:  snap.Mean(),
			P50:   ps[0],
			P99:   ps[1],
		})
	})
	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })
	return reports
}
