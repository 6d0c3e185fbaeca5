// Package telemetry bundles the metrics used across the client runtime.
//
// Counters and gauges are VictoriaMetrics metrics registered in the default
// set, so a process exposes all of them with WritePrometheus. Latencies are
// recorded with go-metrics timers in a package registry, which keeps
// percentiles in process for the perf report.
//
// Metric names follow the Prometheus convention, e.g.
// dgrid_scheduler_handler_errors_total. Timer names use dots, e.g.
// scheduler.handler.
package telemetry
