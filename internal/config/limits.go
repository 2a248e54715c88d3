package config

import "time"

const (
	// MaxRequestBodyBytes bounds JSON request bodies.
	MaxRequestBodyBytes = 10 << 20

	// ShutdownTimeout is how long running sessions get to wind down on SIGTERM.
	ShutdownTimeout = 30 * time.Second

	// ReadHeaderTimeout bounds slow clients. Writes are unbounded for SSE.
	ReadHeaderTimeout = 15 * time.Second
)
