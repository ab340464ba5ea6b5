package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !strings.HasPrefix(c.Listen.WSPath, "/") {
		return fmt.Errorf("listen.ws_path must start with /, got %q", c.Listen.WSPath)
	}
	if c.Listen.ReadLimit < 1 {
		return errors.New("listen.read_limit must be >= 1")
	}

	if c.Liveness.PingInterval <= 0 {
		return errors.New("liveness.ping_interval must be positive")
	}
	if c.Liveness.PongTimeout <= c.Liveness.PingInterval {
		return fmt.Errorf("liveness.pong_timeout (%s) must exceed ping_interval (%s)",
			c.Liveness.PongTimeout, c.Liveness.PingInterval)
	}

	if c.Router.QueueCapacity < 1 {
		return errors.New("router.queue_capacity must be >= 1")
	}
	if c.Router.RetryAttempts < 0 {
		return errors.New("router.retry_attempts must be >= 0")
	}
	if c.Router.RateLimit < 1 {
		return errors.New("router.rate_limit must be >= 1")
	}
	if c.Router.RateWindow <= 0 {
		return errors.New("router.rate_window must be positive")
	}

	if c.Context.Initial == "" {
		return errors.New("context.initial is required")
	}
	initialKnown := false
	for _, label := range c.Context.Labels {
		if label == c.Context.Initial {
			initialKnown = true
			break
		}
	}
	if !initialKnown {
		return fmt.Errorf("context.initial %q is not in context.labels %v", c.Context.Initial, c.Context.Labels)
	}

	return nil
}
