// Package cmd implements the command-line interface of dGrid. It provides a
// hierarchical command structure for running an in-memory member and for
// talking to a grid as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts an in-memory member (optionally with a /metrics endpoint)
//   - maps: Map operations (put, get, remove, listen) and member benchmarks
//   - perf: In-process benchmarks of the scheduler, caches and lock
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// The binary lives in cmd/dgrid. See dgrid -help for a list of all commands.
package cmd
