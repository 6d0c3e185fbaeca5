// Package client implements the grid client runtime. It connects to members
// over a transport connector, invokes operations with retries and delivers
// listener events through the partitioned scheduler.
//
// The package focuses on:
//   - Correlating requests and responses over multiplexed connections
//   - Retrying retryable operations with exponential backoff and a fresh
//     correlation id per attempt
//   - Ordered, non-overlapping listener delivery per partition
//   - Near caching of map reads, kept coherent by invalidation events
//
// Key Components:
//
//   - Client: owns the connections (created through an async cache, so each
//     slot is dialed once even under concurrent use), the listener
//     registrations and the lifecycle lock.
//
//   - Map: the proxy of a named map with Put, Get, Remove and entry listeners.
//
//   - EventHandlers: the dispatch table from event type to decoder. Events
//     are routed by the correlation id of the registering request.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	config.Endpoints = []string{"127.0.0.1:5701"}
//
//	c := client.New(config, tcp.NewClientConnector())
//	if err := c.Connect(ctx); err != nil {
//	  panic(err)
//	}
//	defer c.Shutdown(ctx)
//
//	m, err := c.GetMap(ctx, "sessions", client.WithNearCache(1000, 1200))
//	if err != nil {
//	  panic(err)
//	}
//	_, err = m.Put(ctx, []byte("user-1"), []byte("online"))
package client
