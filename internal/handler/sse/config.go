package sse

import "time"

// Config holds configuration for streaming connections
type Config struct {
	// KeepAliveInterval is how often to send keep-alive pings to prevent
	// proxy timeouts while the backend is loading a model.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default streaming configuration
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
	}
}
