package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr          = ":8090"
	DefaultWSPath        = "/ws"
	DefaultWriteTimeout  = 5 * time.Second
	DefaultReadLimit     = 1 << 20 // 1 MiB frames
	DefaultPingInterval  = 15 * time.Second
	DefaultPongTimeout   = 45 * time.Second
	DefaultQueueCapacity = 1000
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 250 * time.Millisecond
	DefaultRateLimit     = 60
	DefaultRateWindow    = time.Minute
	DefaultContext       = "dental"
)

func (c *ServerConfig) applyDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = DefaultAddr
	}
	if c.Listen.WSPath == "" {
		c.Listen.WSPath = DefaultWSPath
	}
	if c.Listen.WriteTimeout == 0 {
		c.Listen.WriteTimeout = DefaultWriteTimeout
	}
	if c.Listen.ReadLimit == 0 {
		c.Listen.ReadLimit = DefaultReadLimit
	}

	if c.Liveness.PingInterval == 0 {
		c.Liveness.PingInterval = DefaultPingInterval
	}
	if c.Liveness.PongTimeout == 0 {
		c.Liveness.PongTimeout = DefaultPongTimeout
	}

	if c.Router.QueueCapacity == 0 {
		c.Router.QueueCapacity = DefaultQueueCapacity
	}
	if c.Router.RetryAttempts == 0 {
		c.Router.RetryAttempts = DefaultRetryAttempts
	}
	if c.Router.RetryDelay == 0 {
		c.Router.RetryDelay = DefaultRetryDelay
	}
	if c.Router.RateLimit == 0 {
		c.Router.RateLimit = DefaultRateLimit
	}
	if c.Router.RateWindow == 0 {
		c.Router.RateWindow = DefaultRateWindow
	}

	if c.Context.Initial == "" {
		c.Context.Initial = DefaultContext
	}
	if len(c.Context.Labels) == 0 {
		c.Context.Labels = []string{"dental", "pizza", "gym"}
	}
}
