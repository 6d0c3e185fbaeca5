package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Shared transport configuration
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings (both tcp and unix)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific settings, ignored for unix sockets
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// FrameConf holds the framing limits of a connection
type FrameConf struct {
	// MaxFrameSize is the largest frame accepted from the peer
	MaxFrameSize int
	// FragmentThreshold is the wire size above which outgoing messages are
	// fragmented, 0 disables fragmentation
	FragmentThreshold int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of an in-memory member
type ServerConfig struct {
	// Endpoint is the listen address (host:port or socket path)
	Endpoint string
	// TimeoutSecond bounds reads and writes on a connection, 0 disables it
	TimeoutSecond int64
	// WorkersPerConn limits the concurrently handled requests per connection
	WorkersPerConn int
	// PartitionCount is the number of partitions keys are hashed into
	PartitionCount int32
	// MetricsEndpoint serves /metrics if not empty
	MetricsEndpoint string

	Socket SocketConf
	TCP    TCPConf
	Frame  FrameConf

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns the configuration used when nothing is set
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:       "127.0.0.1:5701",
		WorkersPerConn: 64,
		PartitionCount: 271,
		TCP:            TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		Frame:          FrameConf{MaxFrameSize: 16 << 20, FragmentThreshold: 1 << 20},
		LogLevel:       "info",
	}
}

// Timeout returns TimeoutSecond as duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Member")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.WorkersPerConn))
	addField("Partitions", strconv.Itoa(int(c.PartitionCount)))
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	}

	addSection("Framing")
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.Frame.MaxFrameSize))
	addField("Fragment Threshold", fmt.Sprintf("%d bytes", c.Frame.FragmentThreshold))

	addSection("Socket")
	addField("TCP No Delay", strconv.FormatBool(c.TCP.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	// PartitionCount must match the members, keys are hashed into it
	PartitionCount int32
	// InvocationBackoffMs is the first retry pause, it doubles per attempt
	InvocationBackoffMs int

	Socket SocketConf
	TCP    TCPConf
	Frame  FrameConf
}

// DefaultClientConfig returns the configuration used when nothing is set
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoints:              []string{"127.0.0.1:5701"},
		TimeoutSecond:          10,
		RetryCount:             3,
		ConnectionsPerEndpoint: 1,
		PartitionCount:         271,
		InvocationBackoffMs:    50,
		TCP:                    TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		Frame:                  FrameConf{MaxFrameSize: 16 << 20, FragmentThreshold: 1 << 20},
	}
}

// Timeout returns TimeoutSecond as duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ConnsPerEndpoint returns ConnectionsPerEndpoint, at least 1
func (c *ClientConfig) ConnsPerEndpoint() int {
	return max(1, c.ConnectionsPerEndpoint)
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Retry Backoff", fmt.Sprintf("%d ms", c.InvocationBackoffMs))
	addField("Connections Per Endpoint", strconv.Itoa(c.ConnsPerEndpoint()))
	addField("Partitions", strconv.Itoa(int(c.PartitionCount)))
	addField("Fragment Threshold", fmt.Sprintf("%d bytes", c.Frame.FragmentThreshold))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
