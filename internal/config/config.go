// Package config loads, defaults, and validates server configuration.
package config

import "time"

// ServerConfig is the root configuration for a bizsockd instance.
type ServerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Listen   ListenConfig   `yaml:"listen"`
	Liveness LivenessConfig `yaml:"liveness"`
	Router   RouterConfig   `yaml:"router"`
	Context  ContextConfig  `yaml:"context"`
}

// InstanceConfig identifies this server instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ListenConfig holds the network listener settings.
type ListenConfig struct {
	Addr         string        `yaml:"addr"`
	WSPath       string        `yaml:"ws_path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadLimit    int64         `yaml:"read_limit"` // max inbound frame bytes
}

// LivenessConfig holds heartbeat and eviction settings.
type LivenessConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"` // probe sweep interval
	PongTimeout  time.Duration `yaml:"pong_timeout"`  // silence before eviction
}

// RouterConfig holds message router settings.
type RouterConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RateLimit     int           `yaml:"rate_limit"`  // messages per sender per window
	RateWindow    time.Duration `yaml:"rate_window"` // rate-limit window
}

// ContextConfig holds business-context settings.
type ContextConfig struct {
	Initial string         `yaml:"initial"`
	Labels  []string       `yaml:"labels"`  // contexts to register at startup
	Options map[string]any `yaml:"options"` // activation options for the initial context
}
