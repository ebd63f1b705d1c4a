// Package config provides configuration types and utilities for consolebot.
package config

import "time"

// DefaultAPIURL is the metadata service base URL
const DefaultAPIURL = "https://webapi.townshiptale.com/api/"

// Heartbeat & status
const (
	// DefaultHeartbeatTimeout is how old a server's last heartbeat may be
	// before the server is treated as offline
	DefaultHeartbeatTimeout = 10 * time.Minute

	// DefaultStatusPollInterval is how often server status is polled
	DefaultStatusPollInterval = 60 * time.Second

	// DefaultStatusSweepWorkers bounds concurrent status fetches
	DefaultStatusSweepWorkers = 8
)

// Console socket
const (
	// ConsoleHandshakeTimeout bounds the websocket upgrade
	ConsoleHandshakeTimeout = 15 * time.Second

	// ConsoleWriteWait is the time allowed to write a frame
	ConsoleWriteWait = 10 * time.Second

	// ConsolePongWait is the time allowed to read the next frame or pong
	ConsolePongWait = 60 * time.Second

	// ConsolePingPeriod must be less than ConsolePongWait
	ConsolePingPeriod = (ConsolePongWait * 9) / 10

	// ConsoleMaxMessageSize is the largest inbound frame accepted (bytes)
	ConsoleMaxMessageSize = 1024 * 1024
)

// Metadata service
const (
	// MetadataRequestTimeout bounds a single metadata request
	MetadataRequestTimeout = 30 * time.Second

	// HTTPIdleConnTimeout is the idle connection timeout for HTTP transports
	HTTPIdleConnTimeout = 90 * time.Second

	// MaxIdleConnsPerHost is the maximum idle connections per host
	MaxIdleConnsPerHost = 5
)

// Shutdown
const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 15 * time.Second

	// ShutdownHandlerTimeout is the default per-handler shutdown timeout
	ShutdownHandlerTimeout = 10 * time.Second
)

// Event Bus Buffer Sizes
const (
	// EventChannelBufferSize is the buffer size for individual event subscriptions
	EventChannelBufferSize = 100
)
