package sse

import "time"

// Config holds configuration for SSE connections
type Config struct {
	// KeepAliveInterval is how often to send keep-alive pings so idle
	// proxies do not drop the connection
	KeepAliveInterval time.Duration

	// BufferSize is the per-subscriber event buffer
	BufferSize int
}

// DefaultConfig returns the default SSE configuration
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
		BufferSize:        64,
	}
}
