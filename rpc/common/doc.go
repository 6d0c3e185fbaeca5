// Package common provides the configuration structures and the logging setup
// shared by the client, the member and the command line tools.
//
// Key Components:
//
//   - ClientConfig: connection parameters of a client (endpoints, timeouts,
//     retries, partition count, framing limits and socket options).
//
//   - ServerConfig: configuration of an in-memory member, including the
//     worker pool size per connection and the metrics endpoint.
//
//   - Logger: custom logging implementation that plugs into Dragonboat's
//     logger facade and prints every line as "LEVEL | package | message".
//     InitLoggers applies one level to all dGrid loggers.
package common
